package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema. Tree tables carry nested-set columns
// (tree_id, lft, rgt, level) maintained by the tree package.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    parent_id  INTEGER REFERENCES locations(id),
    tree_id    INTEGER NOT NULL DEFAULT 0,
    lft        INTEGER NOT NULL DEFAULT 0,
    rgt        INTEGER NOT NULL DEFAULT 0,
    level      INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS parts (
    id          INTEGER PRIMARY KEY,
    part_number TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assemblies (
    id              INTEGER PRIMARY KEY,
    name            TEXT NOT NULL,
    assembly_number TEXT,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS assembly_parts (
    id          INTEGER PRIMARY KEY,
    assembly_id INTEGER NOT NULL REFERENCES assemblies(id) ON DELETE CASCADE,
    part_id     INTEGER NOT NULL REFERENCES parts(id),
    parent_id   INTEGER REFERENCES assembly_parts(id) ON DELETE CASCADE,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    note        TEXT,
    tree_id     INTEGER NOT NULL DEFAULT 0,
    lft         INTEGER NOT NULL DEFAULT 0,
    rgt         INTEGER NOT NULL DEFAULT 0,
    level       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mooring_parts (
    id          INTEGER PRIMARY KEY,
    location_id INTEGER NOT NULL REFERENCES locations(id),
    part_id     INTEGER NOT NULL REFERENCES parts(id),
    parent_id   INTEGER REFERENCES mooring_parts(id) ON DELETE CASCADE,
    sort_order  INTEGER NOT NULL DEFAULT 0,
    tree_id     INTEGER NOT NULL DEFAULT 0,
    lft         INTEGER NOT NULL DEFAULT 0,
    rgt         INTEGER NOT NULL DEFAULT 0,
    level       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cruises (
    id            INTEGER PRIMARY KEY,
    cruise_number TEXT NOT NULL UNIQUE,
    ship_name     TEXT
);

CREATE TABLE IF NOT EXISTS builds (
    id           INTEGER PRIMARY KEY,
    build_number TEXT NOT NULL,
    assembly_id  INTEGER REFERENCES assemblies(id),
    location_id  INTEGER REFERENCES locations(id),
    is_deployed  BOOLEAN NOT NULL DEFAULT 0,
    detail       TEXT,
    version      INTEGER NOT NULL DEFAULT 1,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deployments (
    id                  INTEGER PRIMARY KEY,
    deployment_number   TEXT NOT NULL,
    build_id            INTEGER NOT NULL REFERENCES builds(id),
    location_id         INTEGER REFERENCES locations(id),
    final_location_id   INTEGER REFERENCES locations(id),
    cruise_deployed_id  INTEGER REFERENCES cruises(id),
    cruise_recovered_id INTEGER REFERENCES cruises(id),
    start_date          DATETIME,
    burnin_date         DATETIME,
    to_field_date       DATETIME,
    recovery_date       DATETIME,
    retire_date         DATETIME,
    latitude            REAL,
    longitude           REAL,
    depth               INTEGER,
    version             INTEGER NOT NULL DEFAULT 1,
    created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deployments_build ON deployments(build_id);

CREATE TABLE IF NOT EXISTS inventory (
    id                           INTEGER PRIMARY KEY,
    serial_number                TEXT NOT NULL UNIQUE,
    part_id                      INTEGER NOT NULL REFERENCES parts(id),
    revision                     TEXT,
    location_id                  INTEGER REFERENCES locations(id),
    parent_id                    INTEGER REFERENCES inventory(id),
    build_id                     INTEGER REFERENCES builds(id),
    deployment_id                INTEGER REFERENCES deployments(id),
    assembly_part_id             INTEGER REFERENCES assembly_parts(id) ON DELETE SET NULL,
    mooring_part_id              INTEGER REFERENCES mooring_parts(id) ON DELETE SET NULL,
    assigned_destination_root_id INTEGER REFERENCES inventory(id) ON DELETE SET NULL,
    test_type                    TEXT,
    test_result                  BOOLEAN,
    flag                         BOOLEAN NOT NULL DEFAULT 0,
    time_at_sea                  INTEGER NOT NULL DEFAULT 0,
    detail                       TEXT,
    image                        BLOB,
    image_mime                   TEXT,
    version                      INTEGER NOT NULL DEFAULT 1,
    tree_id                      INTEGER NOT NULL DEFAULT 0,
    lft                          INTEGER NOT NULL DEFAULT 0,
    rgt                          INTEGER NOT NULL DEFAULT 0,
    level                        INTEGER NOT NULL DEFAULT 0,
    created_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_inventory_build ON inventory(build_id);
CREATE INDEX IF NOT EXISTS idx_inventory_parent ON inventory(parent_id);

CREATE TABLE IF NOT EXISTS inventory_deployments (
    id                  INTEGER PRIMARY KEY,
    inventory_id        INTEGER NOT NULL REFERENCES inventory(id) ON DELETE CASCADE,
    deployment_id       INTEGER NOT NULL REFERENCES deployments(id),
    cruise_deployed_id  INTEGER REFERENCES cruises(id),
    cruise_recovered_id INTEGER REFERENCES cruises(id),
    start_date          DATETIME,
    burnin_date         DATETIME,
    to_field_date       DATETIME,
    recovery_date       DATETIME,
    retire_date         DATETIME,
    latitude            REAL,
    longitude           REAL,
    depth               INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_inventory_deployments_active
    ON inventory_deployments(inventory_id) WHERE retire_date IS NULL;

CREATE TABLE IF NOT EXISTS events (
    id            INTEGER PRIMARY KEY,
    event_type    TEXT NOT NULL CHECK (event_type IN ('calibration', 'config')),
    inventory_id  INTEGER REFERENCES inventory(id) ON DELETE SET NULL,
    deployment_id INTEGER REFERENCES deployments(id) ON DELETE SET NULL,
    event_date    DATETIME NOT NULL,
    approved      BOOLEAN NOT NULL DEFAULT 0,
    detail        TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS event_reviewers (
    event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    user_id  INTEGER NOT NULL REFERENCES users(id),
    approved BOOLEAN NOT NULL DEFAULT 0,
    PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS build_snapshots (
    id            INTEGER PRIMARY KEY,
    build_id      INTEGER NOT NULL REFERENCES builds(id),
    deployment_id INTEGER REFERENCES deployments(id),
    location_id   INTEGER REFERENCES locations(id),
    detail        TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS inventory_snapshots (
    id               INTEGER PRIMARY KEY,
    snapshot_id      INTEGER NOT NULL REFERENCES build_snapshots(id) ON DELETE CASCADE,
    inventory_id     INTEGER NOT NULL REFERENCES inventory(id),
    parent_id        INTEGER REFERENCES inventory_snapshots(id) ON DELETE CASCADE,
    location_id      INTEGER REFERENCES locations(id),
    assembly_part_id INTEGER REFERENCES assembly_parts(id) ON DELETE SET NULL,
    sort_order       INTEGER NOT NULL DEFAULT 0,
    tree_id          INTEGER NOT NULL DEFAULT 0,
    lft              INTEGER NOT NULL DEFAULT 0,
    rgt              INTEGER NOT NULL DEFAULT 0,
    level            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS actions (
    id                      INTEGER PRIMARY KEY,
    seq                     INTEGER NOT NULL UNIQUE,
    action_type             TEXT NOT NULL,
    object_type             TEXT NOT NULL CHECK (object_type IN ('inventory', 'build', 'deployment', 'location', 'event')),
    object_id               INTEGER NOT NULL,
    detail                  TEXT NOT NULL DEFAULT '',
    user_id                 INTEGER REFERENCES users(id),
    location_id             INTEGER REFERENCES locations(id),
    deployment_type         TEXT NOT NULL DEFAULT '' CHECK (deployment_type IN ('', 'build', 'inventory')),
    parent_id               INTEGER,
    build_id                INTEGER,
    deployment_id           INTEGER,
    inventory_deployment_id INTEGER,
    cruise_id               INTEGER,
    latitude                REAL,
    longitude               REAL,
    depth                   INTEGER,
    created_at              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_object ON actions(object_type, object_id);
CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at DESC, seq DESC);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
