package transform

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BearBump/BostaSync/internal/models"
	"github.com/tidwall/gjson"
)

// BusinessZone is the zone all derived timestamps are expressed in.
const BusinessZone = "Africa/Cairo"

func Cairo() *time.Location {
	loc, err := time.LoadLocation(BusinessZone)
	if err != nil {
		return time.FixedZone("EET", 2*60*60)
	}
	return loc
}

// Transformer turns raw detail payloads into canonical records.
type Transformer struct {
	loc *time.Location
	now func() time.Time
}

func New(loc *time.Location) *Transformer {
	if loc == nil {
		loc = Cairo()
	}
	return &Transformer{loc: loc, now: time.Now}
}

func (t *Transformer) WithClock(now func() time.Time) *Transformer {
	if now != nil {
		t.now = now
	}
	return t
}

func (t *Transformer) Location() *time.Location { return t.loc }

// Transform dispatches on track. The record is nil only together with an error.
func (t *Transformer) Transform(raw []byte, track models.Track) (models.Record, Anomalies, error) {
	if track == models.TrackPending {
		p, an, err := t.Pending(raw)
		if err != nil {
			return nil, an, err
		}
		return p, an, nil
	}
	o, an, err := t.Order(raw)
	if err != nil {
		return nil, an, err
	}
	return o, an, nil
}

func (t *Transformer) Order(raw []byte) (*models.Order, Anomalies, error) {
	d := &decoder{loc: t.loc}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		d.flag("$", "want object, got "+kind(root))
		return nil, d.anomalies, ErrMissingTrackingNumber
	}
	o, err := t.order(d, node{v: root})
	if err != nil {
		return nil, d.anomalies, err
	}
	return o, d.anomalies, nil
}

func (t *Transformer) Pending(raw []byte) (*models.PendingOrder, Anomalies, error) {
	d := &decoder{loc: t.loc}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		d.flag("$", "want object, got "+kind(root))
		return nil, d.anomalies, ErrMissingTrackingNumber
	}
	o, err := t.order(d, node{v: root})
	if err != nil {
		return nil, d.anomalies, err
	}
	return &models.PendingOrder{
		Order:     *o,
		OrderID:   o.ID,
		OrderType: ClassifyPendingType(o.OrderTypeValue),
		Status:    models.PendingStatusPending,
	}, d.anomalies, nil
}

// ClassifyPendingType maps the remote type label onto a pending order type.
func ClassifyPendingType(label string) string {
	up := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case up == "":
		return models.PendingTypeUnknown
	case strings.Contains(up, "EXCHANGE"):
		return models.PendingTypeExchange
	case strings.Contains(up, "RETURN"):
		return models.PendingTypeCustomerReturn
	}
	return up
}

func (t *Transformer) order(d *decoder, root node) (*models.Order, error) {
	tn := strings.TrimSpace(d.str(root, "trackingNumber"))
	if tn == "" {
		return nil, ErrMissingTrackingNumber
	}
	now := t.now().In(t.loc)

	o := &models.Order{
		TrackingNumber: tn,
		ID:             d.str(root, "_id"),
		LastSynced:     now,
	}
	if o.ID == "" {
		o.ID = tn
	}

	o.CreatedAt = now
	if ts := d.timestamp(root, "creationTimestamp"); ts != nil {
		o.CreatedAt = *ts
	}

	state := d.object(root, "state")
	o.StateCode = d.integer(state, "code", 0)
	o.StateValue = d.str(state, "value")
	o.MaskedState = d.str(root, "maskedState")
	if o.MaskedState == "" {
		o.MaskedState = o.StateValue
	}

	typ := d.object(root, "type")
	o.OrderTypeCode = d.integer(typ, "code", 0)
	o.OrderTypeValue = d.str(typ, "value")

	o.IsConfirmedDelivery = d.boolean(root, "isConfirmedDelivery")
	o.AllowOpenPackage = d.boolean(root, "allowToOpenPackage")
	o.Notes = d.str(root, "notes")

	cash := d.object(d.object(root, "wallet"), "cashCycle")
	o.COD = d.money(cash, "cod")
	o.BostaFees = d.money(cash, "bosta_fees")
	o.DepositedAmount = d.money(cash, "deposited_amt")

	receiver := d.object(root, "receiver")
	o.ReceiverPhone = strings.TrimPrefix(d.str(receiver, "phone"), "+")
	o.ReceiverName = d.str(receiver, "fullName")
	o.ReceiverFirstName = d.str(receiver, "firstName")
	o.ReceiverLastName = d.str(receiver, "lastName")
	o.ReceiverSecondPhone = d.str(receiver, "secondPhone")

	pkg := d.object(d.object(root, "specs"), "packageDetails")
	o.SpecsItemsCount = d.integer(pkg, "itemsCount", 1)
	o.SpecsDescription = d.str(pkg, "description")
	desc := o.SpecsDescription
	if desc == "" {
		desc = o.Notes
	}
	o.ProductName, o.ProductCount = ParseProduct(desc, o.SpecsItemsCount)

	dropoff := d.object(root, "dropOffAddress")
	city, zone, district := d.object(dropoff, "city"), d.object(dropoff, "zone"), d.object(dropoff, "district")
	o.Dropoff = models.Address{
		CityName:       d.str(city, "name"),
		CityNameAr:     d.str(city, "nameAr"),
		ZoneName:       d.str(zone, "name"),
		ZoneNameAr:     d.str(zone, "nameAr"),
		DistrictName:   d.str(district, "name"),
		DistrictNameAr: d.str(district, "nameAr"),
		FirstLine:      d.str(dropoff, "firstLine"),
	}

	pickup := d.object(root, "pickupAddress")
	o.PickupCity = d.str(d.object(pickup, "city"), "name")
	o.PickupZone = d.str(d.object(pickup, "zone"), "name")
	o.PickupDistrict = d.str(d.object(pickup, "district"), "name")
	o.PickupAddress = d.str(pickup, "firstLine")

	o.DeliveryLat, o.DeliveryLng = t.coordinates(d, root, state)

	star := d.object(root, "star")
	o.StarName = d.str(star, "name")
	o.StarPhone = d.str(star, "phone")

	o.TimelineJSON, o.Timeline = t.timeline(d, root, o.ID, tn)

	o.ScheduledAt = d.timestamp(root, "scheduledAt")
	o.PickedUpAt = t.milestone(d, state, "pickedUpTime", root, "pickedUpAt")
	o.ReceivedAtWarehouse = t.milestone(d, d.object(state, "receivedAtWarehouse"), "time", root, "receivedAtWarehouse")
	o.DeliveredAt = t.milestone(d, state, "deliveryTime", root, "deliveredAt")
	o.ReturnedAt = t.milestone(d, state, "returnedToBusiness", root, "returnedAt")
	o.LatestAWBPrintDate = d.timestamp(root, "latestAwbPrintDate")
	o.LastCallTime = d.timestamp(root, "lastCallTime")

	if o.DeliveredAt != nil {
		h := round2(o.DeliveredAt.Sub(o.CreatedAt).Hours())
		o.DeliveryTimeHours = &h
	}

	o.AttemptsCount = d.integer(root, "attemptsCount", 0)
	o.CallsCount = d.integer(root, "callsNumber", 0)

	sla := d.object(root, "sla")
	orderSLA := d.object(sla, "orderSla")
	o.OrderSLAAt = d.timestamp(orderSLA, "orderSlaTimestamp")
	o.OrderSLAExceeded = d.boolean(orderSLA, "isExceededOrderSla")
	e2e := d.object(sla, "e2eSla")
	o.E2ESLAAt = d.timestamp(e2e, "e2eSlaTimestamp")
	o.E2ESLAExceeded = d.boolean(e2e, "isExceededE2ESla")

	return o, nil
}

// milestone prefers the nested source and falls back to the flat one.
func (t *Transformer) milestone(d *decoder, primary node, pkey string, fallback node, fkey string) *time.Time {
	if ts := d.timestamp(primary, pkey); ts != nil {
		return ts
	}
	return d.timestamp(fallback, fkey)
}

func (t *Transformer) coordinates(d *decoder, root, state node) (*float64, *float64) {
	loc := d.object(root, "deliveryLocation")
	lat, lng := d.float(loc, "lat"), d.float(loc, "lng")
	if !isZero(lat) || !isZero(lng) {
		return lat, lng
	}

	delivering := d.object(state, "delivering")
	field := delivering.field("actualAddress")
	v := d.get(delivering, "actualAddress")
	if v.Type == gjson.Null {
		return lat, lng
	}
	if !v.IsArray() {
		d.flag(field, "want list, got "+kind(v))
		return nil, nil
	}
	arr := v.Array()
	if len(arr) < 2 {
		d.flag(field, "want [lat, lng]")
		return nil, nil
	}
	flat, okLat := asFloat(arr[0])
	flng, okLng := asFloat(arr[1])
	if !okLat || !okLng {
		d.flag(field, "non-numeric coordinates")
		return nil, nil
	}
	return &flat, &flng
}

func (t *Transformer) timeline(d *decoder, root node, orderID, tn string) (string, []models.TimelineEvent) {
	v := d.get(root, "timeline")
	if v.Type == gjson.Null {
		return "", nil
	}
	if !v.IsArray() {
		d.flag("timeline", "want list, got "+kind(v))
		return "", nil
	}
	items := v.Array()
	if len(items) == 0 {
		return "", nil
	}

	var events []models.TimelineEvent
	for i, it := range items {
		n := node{path: "timeline." + strconv.Itoa(i), v: it}
		if !it.IsObject() {
			d.flag(n.path, "want object, got "+kind(it))
			continue
		}
		code, value := d.str(n, "code"), d.str(n, "value")
		if code == "" || value == "" || d.str(n, "date") == "" {
			continue
		}
		done := true
		if dv := d.get(n, "done"); dv.Exists() && dv.Type != gjson.Null {
			done = d.boolean(n, "done")
		}
		events = append(events, models.TimelineEvent{
			OrderID:        orderID,
			TrackingNumber: tn,
			Code:           code,
			Value:          value,
			Date:           d.timestamp(n, "date"),
			IsDone:         done,
			Description:    d.str(n, "desc"),
			SequenceOrder:  i,
		})
	}
	return v.Raw, events
}

func asFloat(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	}
	return 0, false
}

func isZero(f *float64) bool {
	return f == nil || *f == 0
}
