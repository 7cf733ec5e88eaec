package catalog

import (
	"errors"
	"fmt"
	"sort"

	"carwash/internal/config"
	"carwash/internal/models"
)

var (
	ErrUnknownService     = errors.New("unknown service")
	ErrUnknownVehicleType = errors.New("unknown vehicle type")
	ErrNoPrice            = errors.New("service is not offered for vehicle type")
)

// Catalog is the fixed list of services and vehicle types the shop offers.
type Catalog struct {
	services     []models.Service
	vehicleTypes []models.VehicleType
	byService    map[string]models.Service
	byVehicle    map[string]models.VehicleType
}

func New(cfg config.CatalogConfig) (*Catalog, error) {
	if err := config.ValidateCatalog(cfg); err != nil {
		return nil, err
	}

	c := &Catalog{
		services:     append([]models.Service(nil), cfg.Services...),
		vehicleTypes: append([]models.VehicleType(nil), cfg.VehicleTypes...),
		byService:    make(map[string]models.Service, len(cfg.Services)),
		byVehicle:    make(map[string]models.VehicleType, len(cfg.VehicleTypes)),
	}

	sort.SliceStable(c.services, func(i, j int) bool {
		return c.services[i].SortOrder < c.services[j].SortOrder
	})

	for _, s := range c.services {
		c.byService[s.Code] = s
	}
	for _, v := range c.vehicleTypes {
		c.byVehicle[v.Code] = v
	}
	return c, nil
}

func (c *Catalog) Services() []models.Service {
	return append([]models.Service(nil), c.services...)
}

func (c *Catalog) VehicleTypes() []models.VehicleType {
	return append([]models.VehicleType(nil), c.vehicleTypes...)
}

func (c *Catalog) Service(code string) (models.Service, error) {
	s, ok := c.byService[code]
	if !ok {
		return models.Service{}, fmt.Errorf("%w: %s", ErrUnknownService, code)
	}
	return s, nil
}

func (c *Catalog) VehicleType(code string) (models.VehicleType, error) {
	v, ok := c.byVehicle[code]
	if !ok {
		return models.VehicleType{}, fmt.Errorf("%w: %s", ErrUnknownVehicleType, code)
	}
	return v, nil
}

// Price returns the price of a service for a vehicle type.
func (c *Catalog) Price(serviceCode, vehicleCode string) (int64, error) {
	if _, err := c.VehicleType(vehicleCode); err != nil {
		return 0, err
	}
	s, err := c.Service(serviceCode)
	if err != nil {
		return 0, err
	}
	price, ok := s.Prices[vehicleCode]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNoPrice, serviceCode, vehicleCode)
	}
	return price, nil
}
