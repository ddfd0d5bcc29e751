package pg

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id          BIGSERIAL PRIMARY KEY,
	symbol      VARCHAR(20)    NOT NULL,
	side        VARCHAR(5)     NOT NULL CHECK (side IN ('long', 'short')),
	quantity    NUMERIC(30,12) NOT NULL,
	entry_price NUMERIC(30,12) NOT NULL,
	entry_time  TIMESTAMPTZ    NOT NULL,
	order_id    VARCHAR(64)    NOT NULL,
	status      VARCHAR(6)     NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
	created_at  TIMESTAMPTZ    NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ    NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS positions_symbol_status_idx ON positions (symbol, status);

CREATE TABLE IF NOT EXISTS trades (
	id           BIGSERIAL PRIMARY KEY,
	position_id  BIGINT         NOT NULL REFERENCES positions (id),
	symbol       VARCHAR(20)    NOT NULL,
	kind         VARCHAR(5)     NOT NULL CHECK (kind IN ('open', 'close')),
	side         VARCHAR(5)     NOT NULL CHECK (side IN ('long', 'short')),
	quantity     NUMERIC(30,12) NOT NULL,
	price        NUMERIC(30,12) NOT NULL,
	fee          NUMERIC(30,12) NOT NULL,
	fee_currency VARCHAR(10)    NOT NULL,
	order_id     VARCHAR(64)    NOT NULL,
	trade_time   TIMESTAMPTZ    NOT NULL,
	profit       NUMERIC(30,12),
	created_at   TIMESTAMPTZ    NOT NULL DEFAULT now(),
	UNIQUE (position_id, kind)
);

CREATE INDEX IF NOT EXISTS trades_symbol_time_idx ON trades (symbol, trade_time DESC);

CREATE TABLE IF NOT EXISTS grid_orders (
	symbol          VARCHAR(20)    NOT NULL,
	level_index     INT            NOT NULL,
	price           NUMERIC(30,12) NOT NULL,
	side            VARCHAR(4)     NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity        NUMERIC(30,12) NOT NULL,
	order_id        VARCHAR(64)    NOT NULL DEFAULT '',
	client_order_id VARCHAR(64)    NOT NULL DEFAULT '',
	status          VARCHAR(8)     NOT NULL,
	position_id     BIGINT         NOT NULL DEFAULT 0,
	reserved        NUMERIC(30,12) NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ    NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, level_index)
);
`

const (
	insertPosition = `
INSERT INTO positions (symbol, side, quantity, entry_price, entry_time, order_id, status)
VALUES ($1, $2, $3, $4, $5, $6, 'open')
RETURNING id`

	closePosition = `
UPDATE positions SET status = 'closed', updated_at = now()
WHERE id = $1 AND status = 'open'`

	insertTrade = `
INSERT INTO trades (position_id, symbol, kind, side, quantity, price, fee, fee_currency, order_id, trade_time, profit)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	selectOpenPositions = `
SELECT id, symbol, side, quantity, entry_price, entry_time, order_id, status
FROM positions
WHERE status = 'open' AND ($1::text = '' OR symbol = $1::text)
ORDER BY id`

	consumeGridOrder = `
DELETE FROM grid_orders WHERE symbol = $1 AND order_id = $2 AND order_id <> ''`

	upsertGridOrder = `
INSERT INTO grid_orders (symbol, level_index, price, side, quantity, order_id, client_order_id, status, position_id, reserved)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (symbol, level_index) DO UPDATE SET
	price = EXCLUDED.price,
	side = EXCLUDED.side,
	quantity = EXCLUDED.quantity,
	order_id = EXCLUDED.order_id,
	client_order_id = EXCLUDED.client_order_id,
	status = EXCLUDED.status,
	position_id = EXCLUDED.position_id,
	reserved = EXCLUDED.reserved,
	updated_at = now()`

	deleteGridOrder = `
DELETE FROM grid_orders WHERE symbol = $1 AND level_index = $2`

	selectGridOrders = `
SELECT level_index, price, side, quantity, order_id, client_order_id, status, position_id, reserved
FROM grid_orders
WHERE symbol = $1
ORDER BY level_index`

	selectTrades = `
SELECT id, position_id, symbol, kind, side, quantity, price, fee, fee_currency, order_id, trade_time, profit
FROM trades
WHERE ($1::text = '' OR symbol = $1::text) AND ($2::bigint = 0 OR position_id = $2::bigint)
ORDER BY id DESC
LIMIT NULLIF($3::int, 0)`
)
