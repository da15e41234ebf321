package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is a canonical row ready for the batch persister.
type Record interface {
	Key() string
	Columns() map[string]any
	Events() []TimelineEvent
}

type Address struct {
	CityName       string
	CityNameAr     string
	ZoneName       string
	ZoneNameAr     string
	DistrictName   string
	DistrictNameAr string
	FirstLine      string
}

// Order is one delivery flattened into the orders table shape.
type Order struct {
	ID             string
	TrackingNumber string

	StateCode           int
	StateValue          string
	MaskedState         string
	IsConfirmedDelivery bool
	AllowOpenPackage    bool

	OrderTypeCode  int
	OrderTypeValue string

	COD             decimal.Decimal
	BostaFees       decimal.Decimal
	DepositedAmount decimal.Decimal

	ReceiverPhone       string
	ReceiverName        string
	ReceiverFirstName   string
	ReceiverLastName    string
	ReceiverSecondPhone string

	Notes            string
	SpecsItemsCount  int
	SpecsDescription string
	ProductName      string
	ProductCount     int

	Dropoff        Address
	PickupCity     string
	PickupZone     string
	PickupDistrict string
	PickupAddress  string

	DeliveryLat *float64
	DeliveryLng *float64
	StarName    string
	StarPhone   string

	TimelineJSON string
	Timeline     []TimelineEvent

	CreatedAt           time.Time
	ScheduledAt         *time.Time
	PickedUpAt          *time.Time
	ReceivedAtWarehouse *time.Time
	DeliveredAt         *time.Time
	ReturnedAt          *time.Time
	LatestAWBPrintDate  *time.Time
	LastCallTime        *time.Time

	DeliveryTimeHours *float64

	AttemptsCount int
	CallsCount    int

	OrderSLAAt       *time.Time
	OrderSLAExceeded bool
	E2ESLAAt         *time.Time
	E2ESLAExceeded   bool

	LastSynced time.Time
}

func (o *Order) Key() string { return o.TrackingNumber }

func (o *Order) Events() []TimelineEvent { return o.Timeline }

func (o *Order) Columns() map[string]any {
	var timeline any
	if o.TimelineJSON != "" {
		timeline = o.TimelineJSON
	}
	return map[string]any{
		"id":              o.ID,
		"tracking_number": o.TrackingNumber,

		"state_code":            o.StateCode,
		"state_value":           o.StateValue,
		"masked_state":          o.MaskedState,
		"is_confirmed_delivery": o.IsConfirmedDelivery,
		"allow_open_package":    o.AllowOpenPackage,

		"order_type_code":  o.OrderTypeCode,
		"order_type_value": o.OrderTypeValue,

		"cod":              o.COD,
		"bosta_fees":       o.BostaFees,
		"deposited_amount": o.DepositedAmount,

		"receiver_phone":        o.ReceiverPhone,
		"receiver_name":         o.ReceiverName,
		"receiver_first_name":   o.ReceiverFirstName,
		"receiver_last_name":    o.ReceiverLastName,
		"receiver_second_phone": o.ReceiverSecondPhone,

		"notes":             o.Notes,
		"specs_items_count": o.SpecsItemsCount,
		"specs_description": o.SpecsDescription,
		"product_name":      o.ProductName,
		"product_count":     o.ProductCount,

		"dropoff_city_name":        o.Dropoff.CityName,
		"dropoff_city_name_ar":     o.Dropoff.CityNameAr,
		"dropoff_zone_name":        o.Dropoff.ZoneName,
		"dropoff_zone_name_ar":     o.Dropoff.ZoneNameAr,
		"dropoff_district_name":    o.Dropoff.DistrictName,
		"dropoff_district_name_ar": o.Dropoff.DistrictNameAr,
		"dropoff_first_line":       o.Dropoff.FirstLine,

		"pickup_city":     o.PickupCity,
		"pickup_zone":     o.PickupZone,
		"pickup_district": o.PickupDistrict,
		"pickup_address":  o.PickupAddress,

		"delivery_lat": o.DeliveryLat,
		"delivery_lng": o.DeliveryLng,
		"star_name":    o.StarName,
		"star_phone":   o.StarPhone,

		"timeline_json": timeline,

		"created_at":            o.CreatedAt,
		"scheduled_at":          o.ScheduledAt,
		"picked_up_at":          o.PickedUpAt,
		"received_at_warehouse": o.ReceivedAtWarehouse,
		"delivered_at":          o.DeliveredAt,
		"returned_at":           o.ReturnedAt,
		"latest_awb_print_date": o.LatestAWBPrintDate,
		"last_call_time":        o.LastCallTime,

		"delivery_time_hours": o.DeliveryTimeHours,

		"attempts_count": o.AttemptsCount,
		"calls_count":    o.CallsCount,

		"order_sla_timestamp": o.OrderSLAAt,
		"order_sla_exceeded":  o.OrderSLAExceeded,
		"e2e_sla_timestamp":   o.E2ESLAAt,
		"e2e_sla_exceeded":    o.E2ESLAExceeded,

		"last_synced": o.LastSynced,
	}
}
