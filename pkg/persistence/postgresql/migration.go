package postgresql

// migrations returns the ordered schema migrations. Versions are applied in
// ascending order and recorded in schema_migrations.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id VARCHAR(255) PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL DEFAULT 'draft',
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL DEFAULT '[]',
				tags JSONB NOT NULL DEFAULT '[]',
				deployed_ref VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_owner_id ON workflows(owner_id);
			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

			CREATE TABLE IF NOT EXISTS integrations (
				id VARCHAR(255) PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'connected',
				name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				CONSTRAINT uq_integrations_owner_type UNIQUE (owner_id, type)
			);

			CREATE INDEX IF NOT EXISTS idx_integrations_owner_id ON integrations(owner_id);

			CREATE TABLE IF NOT EXISTS integration_tokens (
				integration_id VARCHAR(255) PRIMARY KEY REFERENCES integrations(id) ON DELETE CASCADE,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				token_type VARCHAR(50) NOT NULL DEFAULT '',
				scope TEXT NOT NULL DEFAULT '',
				expires_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				status VARCHAR(50) NOT NULL DEFAULT 'pending',
				status_detail VARCHAR(100) NOT NULL DEFAULT '',
				external_ref VARCHAR(255) NOT NULL,
				engine_id VARCHAR(255) NOT NULL DEFAULT '',
				step_results JSONB NOT NULL DEFAULT '[]',
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				CONSTRAINT uq_executions_external_ref UNIQUE (external_ref)
			);

			CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX IF NOT EXISTS idx_executions_status_updated ON workflow_executions(status, updated_at);

			CREATE TABLE IF NOT EXISTS webhook_events (
				id VARCHAR(255) PRIMARY KEY,
				source VARCHAR(100) NOT NULL,
				external_ref VARCHAR(255) NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}',
				received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				processed_at TIMESTAMP WITH TIME ZONE,
				result VARCHAR(100) NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_webhook_events_external_ref ON webhook_events(external_ref);
		`,
	}
}
