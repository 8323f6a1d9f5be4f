package processor

// Config enables event transformation, either by a JavaScript script or by rules
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Script  string `yaml:"script"`
	Rules   []Rule `yaml:"rules"`
}

// Rule reshapes the events of one table (all tables when Table is empty)
type Rule struct {
	Table     string            `yaml:"table"`
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
	DropTypes []string          `yaml:"drop_types"`
}
