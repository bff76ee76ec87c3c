package storage

import (
	"encoding/json"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
)

// toModel converts a domain detection to its database shape.
func toModel(d domain.Detection) DetectionModel {
	m := DetectionModel{
		ID:         d.ID,
		Protocol:   string(d.Protocol),
		Identity:   d.Identity,
		DeviceType: string(d.DeviceType),
		Category:   string(d.Category),
		Method:     string(d.Method),

		Score:           d.Score.Value,
		BaseLikelihood:  d.Score.BaseLikelihood,
		ImpactFactor:    d.Score.ImpactFactor,
		Confidence:      d.Score.Confidence,
		Level:           string(d.Level),
		SuppressionRule: d.Score.SuppressionRule,

		FirstSeen:         d.FirstSeen,
		LastSeen:          d.LastSeen,
		SeenCount:         d.SeenCount,
		Active:            d.Active,
		CriticalConfirmed: d.CriticalConfirmed,
	}
	for _, s := range d.Sightings {
		m.Sightings = append(m.Sightings, SightingModel{
			DetectionID: d.ID,
			Latitude:    s.Latitude,
			Longitude:   s.Longitude,
			Timestamp:   s.Timestamp,
			RSSI:        s.RSSI,
		})
	}
	for _, a := range d.Anomalies {
		factors, _ := json.Marshal(a.Factors)
		m.Anomalies = append(m.Anomalies, AnomalyModel{
			ID:          a.ID,
			DetectionID: d.ID,
			Protocol:    string(a.Protocol),
			Type:        string(a.Type),
			Identity:    a.Identity,
			DeviceType:  string(a.DeviceType),
			Confidence:  a.Confidence,
			RawScore:    a.RawScore,
			Factors:     string(factors),
			EventTime:   a.EventTime,
			Timestamp:   a.Timestamp,
			Latitude:    a.Latitude,
			Longitude:   a.Longitude,
			HasFix:      a.HasFix,
		})
	}
	return m
}

// toDomain converts a database model back to the domain aggregate.
func toDomain(m DetectionModel) *domain.Detection {
	d := &domain.Detection{
		ID:         m.ID,
		Protocol:   domain.Protocol(m.Protocol),
		Identity:   m.Identity,
		DeviceType: domain.DeviceType(m.DeviceType),
		Category:   domain.Category(m.Category),
		Method:     domain.DetectionMethod(m.Method),

		Score: domain.ThreatScore{
			Value:           m.Score,
			BaseLikelihood:  m.BaseLikelihood,
			ImpactFactor:    m.ImpactFactor,
			Confidence:      m.Confidence,
			SuppressionRule: m.SuppressionRule,
		},
		Level: domain.ThreatLevel(m.Level),

		FirstSeen:         m.FirstSeen,
		LastSeen:          m.LastSeen,
		SeenCount:         m.SeenCount,
		Active:            m.Active,
		CriticalConfirmed: m.CriticalConfirmed,
	}
	for _, s := range m.Sightings {
		d.Sightings = append(d.Sightings, domain.LocationSighting{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Timestamp: s.Timestamp,
			RSSI:      s.RSSI,
		})
	}
	for _, a := range m.Anomalies {
		var factors []domain.Factor
		if a.Factors != "" {
			_ = json.Unmarshal([]byte(a.Factors), &factors)
		}
		d.Anomalies = append(d.Anomalies, domain.AnomalyRecord{
			ID:         a.ID,
			Protocol:   domain.Protocol(a.Protocol),
			Type:       domain.AnomalyType(a.Type),
			Identity:   a.Identity,
			DeviceType: domain.DeviceType(a.DeviceType),
			Confidence: a.Confidence,
			RawScore:   a.RawScore,
			Factors:    factors,
			EventTime:  a.EventTime,
			Timestamp:  a.Timestamp,
			Latitude:   a.Latitude,
			Longitude:  a.Longitude,
			HasFix:     a.HasFix,
		})
	}
	return d
}
