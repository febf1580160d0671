package stops

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gorest/roadtrip/server/internal/lib/failure"
)

// Vehicle is the traveler's vehicle profile
type Vehicle string

const (
	VehicleBike  Vehicle = "bike"
	VehicleCar   Vehicle = "car"
	VehicleEV    Vehicle = "ev"
	VehicleBus   Vehicle = "bus"
	VehicleOther Vehicle = "other"
)

// EVSubtype narrows an electric vehicle profile
type EVSubtype string

const (
	EVElectricBike EVSubtype = "electric_bike"
	EVElectricCar  EVSubtype = "electric_car"
)

// Mode selects where the stop interval comes from
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Default stop spacing per vehicle, in kilometers
const (
	DefaultBikeKm  = 50
	DefaultCarKm   = 100
	DefaultEBikeKm = 50
	DefaultEVKm    = 80
	DefaultBusKm   = 150
	DefaultOtherKm = 100
)

// ParseVehicle normalizes user input ("Car", " EV ") to a Vehicle.
// Unrecognized values map to VehicleOther.
func ParseVehicle(s string) Vehicle {
	switch v := Vehicle(strings.ToLower(strings.TrimSpace(s))); v {
	case VehicleBike, VehicleCar, VehicleEV, VehicleBus:
		return v
	default:
		return VehicleOther
	}
}

// ParseMode normalizes user input to a Mode. Anything but "manual" is auto;
// web forms also send "automatic".
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeManual)) {
		return ModeManual
	}
	return ModeAuto
}

// IntervalRequest carries everything the interval decision depends on
type IntervalRequest struct {
	Mode Mode
	// Manual is the raw user-entered interval, used only in manual mode
	Manual string
	// SuggestedKm is the trip-advice value for this trip, zero when absent
	SuggestedKm float64
	Vehicle     Vehicle
	EVSubtype   EVSubtype
}

// ResolveInterval decides the spacing between stops in kilometers.
// Manual mode wins, then a server suggestion, then the vehicle default.
func ResolveInterval(req IntervalRequest) (float64, error) {
	if req.Mode == ModeManual {
		return parseManual(req.Manual)
	}

	if req.SuggestedKm > 0 && !math.IsInf(req.SuggestedKm, 0) {
		return req.SuggestedKm, nil
	}

	return VehicleDefault(req.Vehicle, req.EVSubtype), nil
}

// VehicleDefault returns the profile default interval in kilometers.
func VehicleDefault(vehicle Vehicle, subtype EVSubtype) float64 {
	switch vehicle {
	case VehicleBike:
		return DefaultBikeKm
	case VehicleCar:
		return DefaultCarKm
	case VehicleEV:
		if subtype == EVElectricBike {
			return DefaultEBikeKm
		}
		return DefaultEVKm
	case VehicleBus:
		return DefaultBusKm
	default:
		return DefaultOtherKm
	}
}

func parseManual(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: manual stop interval is required", failure.ErrInputInvalid)
	}

	km, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(km) || math.IsInf(km, 0) {
		return 0, fmt.Errorf("%w: manual stop interval %q is not a number", failure.ErrInputInvalid, raw)
	}
	if km <= 0 {
		return 0, fmt.Errorf("%w: manual stop interval must be positive, got %v", failure.ErrInputInvalid, km)
	}

	return km, nil
}
