package storage

import "strings"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		address          TEXT NOT NULL DEFAULT '',
		lat              DOUBLE PRECISION,
		lng              DOUBLE PRECISION,
		service_range_km DOUBLE PRECISION NOT NULL DEFAULT 0,
		specialties      TEXT NOT NULL DEFAULT '[]',
		service_areas    TEXT NOT NULL DEFAULT '[]',
		engagement_count INTEGER NOT NULL DEFAULT 0,
		created_at       {{ts}} NOT NULL,
		updated_at       {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_providers_status_geo ON providers (status, lat, lng)`,

	`CREATE TABLE IF NOT EXISTS requests (
		id           TEXT PRIMARY KEY,
		customer_id  TEXT NOT NULL,
		service_type TEXT NOT NULL,
		address      TEXT NOT NULL,
		lat          DOUBLE PRECISION,
		lng          DOUBLE PRECISION,
		area_size    DOUBLE PRECISION,
		desired_at   {{ts}},
		description  TEXT NOT NULL DEFAULT '',
		budget       BIGINT NOT NULL DEFAULT 0,
		checklist    TEXT NOT NULL DEFAULT '{}',
		images       TEXT NOT NULL DEFAULT '[]',
		status       TEXT NOT NULL,
		max_offers   INTEGER NOT NULL,
		offer_count  INTEGER NOT NULL DEFAULT 0,
		created_at   {{ts}} NOT NULL,
		closed_at    {{ts}},
		updated_at   {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_customer ON requests (customer_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_status_created ON requests (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS offers (
		id                TEXT PRIMARY KEY,
		request_id        TEXT NOT NULL REFERENCES requests (id),
		provider_id       TEXT NOT NULL,
		price             BIGINT NOT NULL,
		message           TEXT NOT NULL DEFAULT '',
		estimated_minutes INTEGER NOT NULL DEFAULT 0,
		available_at      {{ts}},
		images            TEXT NOT NULL DEFAULT '[]',
		status            TEXT NOT NULL,
		reject_reason     TEXT NOT NULL DEFAULT '',
		points_used       BIGINT NOT NULL DEFAULT 0,
		created_at        {{ts}} NOT NULL,
		updated_at        {{ts}} NOT NULL,
		UNIQUE (request_id, provider_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offers_provider_created ON offers (provider_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_offers_status_created ON offers (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS engagements (
		id                     TEXT PRIMARY KEY,
		request_id             TEXT NOT NULL REFERENCES requests (id),
		offer_id               TEXT NOT NULL UNIQUE REFERENCES offers (id),
		customer_id            TEXT NOT NULL,
		provider_id            TEXT NOT NULL,
		service_type           TEXT NOT NULL,
		address                TEXT NOT NULL,
		lat                    DOUBLE PRECISION,
		lng                    DOUBLE PRECISION,
		price                  BIGINT NOT NULL,
		scheduled_at           {{ts}},
		estimated_minutes      INTEGER NOT NULL DEFAULT 0,
		status                 TEXT NOT NULL,
		room_id                TEXT NOT NULL DEFAULT '',
		completion_reported_at {{ts}},
		completion_images      TEXT NOT NULL DEFAULT '[]',
		completed_at           {{ts}},
		auto_completed         BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_by           TEXT NOT NULL DEFAULT '',
		cancelled_at           {{ts}},
		created_at             {{ts}} NOT NULL,
		updated_at             {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagements_status_reported ON engagements (status, completion_reported_at)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id                   TEXT PRIMARY KEY,
		provider_id          TEXT NOT NULL,
		tier                 TEXT NOT NULL,
		status               TEXT NOT NULL,
		period_months        INTEGER NOT NULL,
		current_period_start {{ts}} NOT NULL,
		current_period_end   {{ts}} NOT NULL,
		paused_at            {{ts}},
		cancelled_at         {{ts}},
		source               TEXT NOT NULL,
		created_at           {{ts}} NOT NULL,
		updated_at           {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_provider ON subscriptions (provider_id, status)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		kind       TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL DEFAULT '',
		data       TEXT NOT NULL DEFAULT '{}',
		created_at {{ts}} NOT NULL,
		read_at    {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id            TEXT PRIMARY KEY,
		engagement_id TEXT NOT NULL UNIQUE,
		customer_id   TEXT NOT NULL,
		provider_id   TEXT NOT NULL,
		created_at    {{ts}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS point_balances (
		provider_id TEXT PRIMARY KEY,
		balance     BIGINT NOT NULL DEFAULT 0,
		updated_at  {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS point_transactions (
		id          TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		amount      BIGINT NOT NULL,
		kind        TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		related_id  TEXT NOT NULL,
		created_at  {{ts}} NOT NULL,
		UNIQUE (kind, related_id)
	)`,
}

func schemaFor(driver string) []string {
	ts := "TIMESTAMP"
	if driver == "postgres" {
		ts = "TIMESTAMPTZ"
	}
	r := strings.NewReplacer("{{ts}}", ts)
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = r.Replace(stmt)
	}
	return out
}
