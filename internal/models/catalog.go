package models

type Service struct {
	Code            string           `yaml:"code" json:"code"`
	Name            string           `yaml:"name" json:"name"`
	Description     string           `yaml:"description" json:"description"`
	DurationMinutes int              `yaml:"duration_minutes" json:"duration_minutes"`
	Prices          map[string]int64 `yaml:"prices" json:"prices"` // vehicle type code -> price
	SortOrder       int              `yaml:"sort_order" json:"sort_order"`
}

type VehicleType struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}
