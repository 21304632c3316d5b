package storage

const schema = `
CREATE TABLE IF NOT EXISTS pod_statuses (
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	phase TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (namespace, name)
);

CREATE INDEX IF NOT EXISTS idx_pod_statuses_updated_at ON pod_statuses(updated_at);
`
