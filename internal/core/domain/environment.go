package domain

// Environment is the inferred surroundings of the observer, derived from
// GNSS visibility and movement speed. It tunes suppression of anomalies
// that are expected in a given setting.
type Environment string

const (
	EnvUnknown  Environment = "unknown"
	EnvIndoor   Environment = "indoor"
	EnvUrban    Environment = "urban"
	EnvRural    Environment = "rural"
	EnvMaritime Environment = "maritime"
	EnvAviation Environment = "aviation"
	EnvRemote   Environment = "remote"
)

// Enclosed reports whether the environment blocks line of sight to the sky.
func (e Environment) Enclosed() bool { return e == EnvIndoor }
