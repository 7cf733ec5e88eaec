package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"carwash/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Booking       BookingConfig       `yaml:"booking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Exports       ExportConfig        `yaml:"exports"`
	Google        GoogleConfig        `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	CORS      APICORSConfig      `yaml:"cors"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds"`
}

type DatabaseConfig struct {
	Path           string `yaml:"path"`
	MigrationTable string `yaml:"migration_table"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"` // cron expression
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// ScheduleConfig describes business hours and the fixed slot templates.
type ScheduleConfig struct {
	Timezone      string       `yaml:"timezone"`
	Calendar      []DayHours   `yaml:"calendar"`
	WeekdaySlots  []SlotConfig `yaml:"weekday_slots"`
	SaturdaySlots []SlotConfig `yaml:"saturday_slots"`
}

// DayHours is one BusinessCalendar entry; weekdays missing from the list are closed.
type DayHours struct {
	Weekday int    `yaml:"weekday"` // 0=Sunday..6=Saturday
	Open    string `yaml:"open"`
	Close   string `yaml:"close"`
	Closed  bool   `yaml:"closed"`
}

type SlotConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type CatalogConfig struct {
	Services     []models.Service     `yaml:"services"`
	VehicleTypes []models.VehicleType `yaml:"vehicle_types"`
}

type BookingConfig struct {
	MaxBookingDays    int    `yaml:"max_booking_days"`
	RateLimitBookings int    `yaml:"rate_limit_bookings"`
	RateLimitWindow   int    `yaml:"rate_limit_window"` // seconds
	DefaultRegion     string `yaml:"default_region"`
}

type NotificationsConfig struct {
	Enabled  bool      `yaml:"enabled"`
	ShopName string    `yaml:"shop_name"`
	SES      SESConfig `yaml:"ses"`
}

type SESConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	Sender          string `yaml:"sender"`
}

type RemindersConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression
}

type ExportConfig struct {
	MaxRangeDays int `yaml:"max_range_days"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
	SyncSchedule          string `yaml:"sync_schedule"` // cron; empty disables full resync
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Notifications.Enabled && c.Notifications.SES.Sender == "" {
		return errors.New("notifications.ses.sender is required when notifications are enabled")
	}

	if err := ValidateCalendar(c.Schedule.Calendar); err != nil {
		return err
	}

	return ValidateCatalog(c.Catalog)
}

func ValidateCalendar(days []DayHours) error {
	seen := make(map[int]bool)
	for _, d := range days {
		if d.Weekday < 0 || d.Weekday > 6 {
			return fmt.Errorf("calendar weekday %d out of range 0..6", d.Weekday)
		}
		if seen[d.Weekday] {
			return fmt.Errorf("duplicate calendar weekday: %d", d.Weekday)
		}
		seen[d.Weekday] = true
		if !d.Closed && (d.Open == "" || d.Close == "") {
			return fmt.Errorf("calendar weekday %d requires open and close times", d.Weekday)
		}
	}
	return nil
}

func ValidateCatalog(catalog CatalogConfig) error {
	vehicles := make(map[string]bool)
	for _, v := range catalog.VehicleTypes {
		code := strings.TrimSpace(v.Code)
		if code == "" {
			return fmt.Errorf("vehicle type '%s' has empty code", v.Name)
		}
		if vehicles[code] {
			return fmt.Errorf("duplicate vehicle type code: %s", code)
		}
		vehicles[code] = true
	}

	services := make(map[string]bool)
	for _, s := range catalog.Services {
		code := strings.TrimSpace(s.Code)
		if code == "" {
			return fmt.Errorf("service '%s' has empty code", s.Name)
		}
		if services[code] {
			return fmt.Errorf("duplicate service code: %s", code)
		}
		services[code] = true
		for vehicle, price := range s.Prices {
			if !vehicles[vehicle] {
				return fmt.Errorf("service %s has price for unknown vehicle type %s", code, vehicle)
			}
			if price < 0 {
				return fmt.Errorf("service %s has negative price for %s", code, vehicle)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "carwash"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Database.MigrationTable == "" {
		c.Database.MigrationTable = "schema_migrations"
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}

	if c.Reminders.Schedule == "" {
		c.Reminders.Schedule = "0 18 * * *"
	}
	if c.Exports.MaxRangeDays == 0 {
		c.Exports.MaxRangeDays = 92
	}

	// Booking defaults
	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if c.Booking.RateLimitBookings == 0 {
		c.Booking.RateLimitBookings = models.RateLimitBookings
	}
	if c.Booking.RateLimitWindow == 0 {
		c.Booking.RateLimitWindow = models.RateLimitWindow
	}
	if c.Booking.DefaultRegion == "" {
		c.Booking.DefaultRegion = "CO"
	}

	c.Schedule.applyDefaults()

	if len(c.Catalog.VehicleTypes) == 0 && len(c.Catalog.Services) == 0 {
		c.Catalog = DefaultCatalog()
	}
}

func (s *ScheduleConfig) applyDefaults() {
	if s.Timezone == "" {
		s.Timezone = "Local"
	}
	if len(s.Calendar) == 0 {
		s.Calendar = DefaultCalendar()
	}
	if len(s.WeekdaySlots) == 0 {
		s.WeekdaySlots = []SlotConfig{
			{Start: "08:30", End: "10:00"},
			{Start: "10:00", End: "11:30"},
			{Start: "11:30", End: "13:00"},
			{Start: "14:00", End: "15:30"},
			{Start: "15:30", End: "17:00"},
		}
	}
	if len(s.SaturdaySlots) == 0 {
		s.SaturdaySlots = []SlotConfig{
			{Start: "08:30", End: "10:00"},
			{Start: "10:00", End: "11:30"},
			{Start: "11:30", End: "13:00"},
		}
	}
}

// DefaultSchedule returns the schedule section with every default applied.
func DefaultSchedule() ScheduleConfig {
	var s ScheduleConfig
	s.applyDefaults()
	return s
}

// DefaultCalendar is the shop's week: Sunday closed, short Saturday.
func DefaultCalendar() []DayHours {
	days := []DayHours{{Weekday: 0, Closed: true}}
	for wd := 1; wd <= 5; wd++ {
		days = append(days, DayHours{Weekday: wd, Open: "08:30", Close: "17:00"})
	}
	return append(days, DayHours{Weekday: 6, Open: "08:30", Close: "13:00"})
}

func DefaultCatalog() CatalogConfig {
	return CatalogConfig{
		VehicleTypes: []models.VehicleType{
			{Code: "car", Name: "Automóvil"},
			{Code: "suv", Name: "Camioneta / SUV"},
			{Code: "pickup", Name: "Pick-up"},
			{Code: "motorcycle", Name: "Motocicleta"},
		},
		Services: []models.Service{
			{
				Code: "basic", Name: "Lavado básico", Description: "Exterior, llantas y secado",
				DurationMinutes: 45, SortOrder: 1,
				Prices: map[string]int64{"car": 25000, "suv": 30000, "pickup": 32000, "motorcycle": 15000},
			},
			{
				Code: "full", Name: "Lavado completo", Description: "Exterior, interior y aspirado",
				DurationMinutes: 75, SortOrder: 2,
				Prices: map[string]int64{"car": 40000, "suv": 48000, "pickup": 50000, "motorcycle": 22000},
			},
			{
				Code: "detail", Name: "Detallado premium", Description: "Completo con encerado y tratamiento de tapicería",
				DurationMinutes: 90, SortOrder: 3,
				Prices: map[string]int64{"car": 90000, "suv": 110000, "pickup": 115000},
			},
		},
	}
}
