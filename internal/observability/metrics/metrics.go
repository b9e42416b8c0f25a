package metrics

// Config carries the constant labels stamped onto every metric.
type Config struct {
	ServiceName string
	Environment string
}
