package main

type config struct {
	Rows           int     `mapstructure:"rows"`
	Seed           uint64  `mapstructure:"seed"`
	DuplicateRatio float64 `mapstructure:"duplicate_ratio"`
	MissingRatio   float64 `mapstructure:"missing_ratio"`
	Output         string  `mapstructure:"output"`
	BaseURL        string  `mapstructure:"base_url"`
	OfficeID       int64   `mapstructure:"office_id"`
	UserID         string  `mapstructure:"user_id"`
	Mode           string  `mapstructure:"mode"`
}
