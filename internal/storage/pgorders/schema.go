package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

const (
	TableOrders        = "orders"
	TablePendingOrders = "pending_orders"
	TableTimeline      = "timeline_events"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  tracking_number TEXT UNIQUE NOT NULL,
  state_code INT NOT NULL,
  state_value TEXT,
  masked_state TEXT,
  is_confirmed_delivery BOOLEAN NOT NULL DEFAULT false,
  allow_open_package BOOLEAN NOT NULL DEFAULT false,
  order_type_code INT,
  order_type_value TEXT,
  cod NUMERIC(14,2) NOT NULL DEFAULT 0,
  bosta_fees NUMERIC(14,2) NOT NULL DEFAULT 0,
  deposited_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  receiver_phone TEXT NOT NULL,
  receiver_name TEXT,
  receiver_first_name TEXT,
  receiver_last_name TEXT,
  receiver_second_phone TEXT,
  notes TEXT,
  specs_items_count INT NOT NULL DEFAULT 1,
  specs_description TEXT,
  product_name TEXT,
  product_count INT NOT NULL DEFAULT 1,
  dropoff_city_name TEXT,
  dropoff_city_name_ar TEXT,
  dropoff_zone_name TEXT,
  dropoff_zone_name_ar TEXT,
  dropoff_district_name TEXT,
  dropoff_district_name_ar TEXT,
  dropoff_first_line TEXT,
  pickup_city TEXT,
  pickup_zone TEXT,
  pickup_district TEXT,
  pickup_address TEXT,
  delivery_lat DOUBLE PRECISION,
  delivery_lng DOUBLE PRECISION,
  star_name TEXT,
  star_phone TEXT,
  timeline_json JSONB,
  created_at TIMESTAMPTZ NOT NULL,
  scheduled_at TIMESTAMPTZ,
  picked_up_at TIMESTAMPTZ,
  received_at_warehouse TIMESTAMPTZ,
  delivered_at TIMESTAMPTZ,
  returned_at TIMESTAMPTZ,
  latest_awb_print_date TIMESTAMPTZ,
  last_call_time TIMESTAMPTZ,
  delivery_time_hours DOUBLE PRECISION,
  attempts_count INT NOT NULL DEFAULT 0,
  calls_count INT NOT NULL DEFAULT 0,
  order_sla_timestamp TIMESTAMPTZ,
  order_sla_exceeded BOOLEAN NOT NULL DEFAULT false,
  e2e_sla_timestamp TIMESTAMPTZ,
  e2e_sla_exceeded BOOLEAN NOT NULL DEFAULT false,
  last_synced TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_by_system TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_phone ON orders(receiver_phone)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state_code)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_delivered ON orders(delivered_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_city ON orders(dropoff_city_name)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_zone ON orders(dropoff_zone_name)`,
		// no is_confirmed_delivery, allow_open_package, delivery_time_hours here
		`
CREATE TABLE IF NOT EXISTS pending_orders (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT UNIQUE NOT NULL,
  order_id TEXT,
  original_order_id TEXT,
  order_type TEXT NOT NULL,
  order_type_code INT,
  order_type_value TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  is_received BOOLEAN NOT NULL DEFAULT false,
  received_at TIMESTAMPTZ,
  received_by TEXT,
  received_notes TEXT,
  state_code INT,
  state_value TEXT,
  masked_state TEXT,
  receiver_phone TEXT,
  receiver_name TEXT,
  receiver_first_name TEXT,
  receiver_last_name TEXT,
  receiver_second_phone TEXT,
  notes TEXT,
  specs_items_count INT NOT NULL DEFAULT 1,
  specs_description TEXT,
  product_name TEXT,
  product_count INT NOT NULL DEFAULT 1,
  cod NUMERIC(14,2) NOT NULL DEFAULT 0,
  bosta_fees NUMERIC(14,2) NOT NULL DEFAULT 0,
  deposited_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
  dropoff_city_name TEXT,
  dropoff_city_name_ar TEXT,
  dropoff_zone_name TEXT,
  dropoff_zone_name_ar TEXT,
  dropoff_district_name TEXT,
  dropoff_district_name_ar TEXT,
  dropoff_first_line TEXT,
  pickup_city TEXT,
  pickup_zone TEXT,
  pickup_district TEXT,
  pickup_address TEXT,
  delivery_lat DOUBLE PRECISION,
  delivery_lng DOUBLE PRECISION,
  star_name TEXT,
  star_phone TEXT,
  timeline_json JSONB,
  created_at TIMESTAMPTZ,
  scheduled_at TIMESTAMPTZ,
  picked_up_at TIMESTAMPTZ,
  received_at_warehouse TIMESTAMPTZ,
  delivered_at TIMESTAMPTZ,
  returned_at TIMESTAMPTZ,
  latest_awb_print_date TIMESTAMPTZ,
  last_call_time TIMESTAMPTZ,
  attempts_count INT NOT NULL DEFAULT 0,
  calls_count INT NOT NULL DEFAULT 0,
  order_sla_timestamp TIMESTAMPTZ,
  order_sla_exceeded BOOLEAN NOT NULL DEFAULT false,
  e2e_sla_timestamp TIMESTAMPTZ,
  e2e_sla_exceeded BOOLEAN NOT NULL DEFAULT false,
  last_synced TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_by_system TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_order_type ON pending_orders(order_type)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_received ON pending_orders(is_received)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_phone ON pending_orders(receiver_phone)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_orders(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_received_at ON pending_orders(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_original_order ON pending_orders(original_order_id)`,
		`
CREATE TABLE IF NOT EXISTS timeline_events (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT,
  tracking_number TEXT NOT NULL,
  event_code TEXT NOT NULL,
  event_value TEXT NOT NULL,
  event_date TIMESTAMPTZ,
  is_done BOOLEAN NOT NULL DEFAULT true,
  description TEXT,
  sequence_order INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_tracking_number ON timeline_events(tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_event_code ON timeline_events(event_code)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_event_date ON timeline_events(event_date)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
