package sqlstore

const scheduleColumns = `id, agent_id, workspace_id, name, description, cron_expr, timezone, input_defaults,
	is_active, last_run_at, next_run_at, run_count, version, created_at, updated_at`

const (
	insertScheduleQuery = `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getScheduleQuery = `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	scheduleExistsQuery = `SELECT 1 FROM schedules WHERE id = ?`

	updateScheduleQuery = `UPDATE schedules
		SET name = ?, description = ?, cron_expr = ?, timezone = ?, input_defaults = ?,
			is_active = ?, next_run_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	deleteScheduleQuery = `DELETE FROM schedules WHERE id = ?`

	listDueSchedulesQuery = `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE is_active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC
		LIMIT ?`

	claimScheduleRunQuery = `UPDATE schedules
		SET last_run_at = ?, next_run_at = ?, is_active = ?, run_count = run_count + 1, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND is_active = ?`
)

const eventTriggerColumns = `id, agent_id, workspace_id, name, description, trigger_type, event_name, webhook_path,
	webhook_secret, filter, input_mapping, is_active, last_triggered_at, trigger_count, version, created_at, updated_at`

const (
	insertEventTriggerQuery = `INSERT INTO event_triggers (` + eventTriggerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getEventTriggerQuery = `SELECT ` + eventTriggerColumns + ` FROM event_triggers WHERE id = ?`

	getEventTriggerByPathQuery = `SELECT ` + eventTriggerColumns + ` FROM event_triggers WHERE webhook_path = ?`

	eventTriggerExistsQuery = `SELECT 1 FROM event_triggers WHERE id = ?`

	findActiveEventTriggersQuery = `SELECT ` + eventTriggerColumns + ` FROM event_triggers
		WHERE agent_id = ? AND event_name = ? AND is_active = ?
		ORDER BY created_at ASC, id ASC`

	updateEventTriggerQuery = `UPDATE event_triggers
		SET name = ?, description = ?, event_name = ?, webhook_path = ?, webhook_secret = ?, filter = ?,
			input_mapping = ?, is_active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	deleteEventTriggerQuery = `DELETE FROM event_triggers WHERE id = ?`

	recordEventTriggerFiredQuery = `UPDATE event_triggers
		SET last_triggered_at = ?, trigger_count = trigger_count + 1
		WHERE id = ?`
)

const triggerEventColumns = `id, trigger_id, agent_id, workspace_id, status, source_type, trigger_type, integration_key,
	integration_id, event_name, payload, error_message, created_at, updated_at`

const (
	insertTriggerEventQuery = `INSERT INTO trigger_events (` + triggerEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getTriggerEventQuery = `SELECT ` + triggerEventColumns + ` FROM trigger_events WHERE id = ?`

	triggerEventExistsQuery = `SELECT 1 FROM trigger_events WHERE id = ?`

	transitionTriggerEventQuery = `UPDATE trigger_events
		SET status = ?, error_message = COALESCE(?, error_message), updated_at = ?
		WHERE id = ? AND status = ?`
)

const (
	getWorkspaceQuery    = `SELECT id, name, domains, timezone FROM workspaces WHERE id = ?`
	upsertWorkspaceQuery = `INSERT INTO workspaces (id, name, domains, timezone) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, domains = excluded.domains, timezone = excluded.timezone`

	getAgentQuery    = `SELECT id, workspace_id, name, is_enabled FROM agents WHERE id = ?`
	upsertAgentQuery = `INSERT INTO agents (id, workspace_id, name, is_enabled) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET workspace_id = excluded.workspace_id, name = excluded.name, is_enabled = excluded.is_enabled`

	integrationColumns      = `id, provider, external_account, agent_id, workspace_id, is_active, created_at, updated_at`
	getIntegrationQuery     = `SELECT ` + integrationColumns + ` FROM integrations WHERE id = ?`
	getIntegrationByAccount = `SELECT ` + integrationColumns + ` FROM integrations WHERE provider = ? AND LOWER(external_account) = LOWER(?)`
	upsertIntegrationQuery  = `INSERT INTO integrations (` + integrationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET provider = excluded.provider, external_account = excluded.external_account,
			agent_id = excluded.agent_id, workspace_id = excluded.workspace_id, is_active = excluded.is_active,
			updated_at = excluded.updated_at`
)

const (
	getCursorQuery = `SELECT connection_key, cursor_value, pending_value, updated_at
		FROM integration_cursors WHERE connection_key = ?`

	insertCursorQuery = `INSERT INTO integration_cursors (connection_key, cursor_value, pending_value, updated_at)
		VALUES (?, ?, NULL, ?) ON CONFLICT (connection_key) DO NOTHING`

	swapCursorQuery = `UPDATE integration_cursors
		SET cursor_value = ?, pending_value = NULL, updated_at = ?
		WHERE connection_key = ? AND cursor_value = ?`

	markCursorPendingQuery = `UPDATE integration_cursors
		SET pending_value = ?, updated_at = ?
		WHERE connection_key = ? AND cursor_value = ?`

	cursorExistsQuery = `SELECT 1 FROM integration_cursors WHERE connection_key = ?`
)

const emailMessageColumns = `id, integration_id, external_message_id, thread_id, from_address, to_addresses, subject,
	snippet, labels, received_at, is_internal, is_forwarded, is_important, within_business_hours, created_at, updated_at`

const (
	insertEmailMessageQuery = `INSERT INTO email_messages (` + emailMessageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (integration_id, external_message_id) DO NOTHING`

	refreshEmailMessageQuery = `UPDATE email_messages
		SET thread_id = ?, from_address = ?, to_addresses = ?, subject = ?, snippet = ?, labels = ?,
			received_at = ?, is_internal = ?, is_forwarded = ?, is_important = ?, within_business_hours = ?, updated_at = ?
		WHERE integration_id = ? AND external_message_id = ?`

	getEmailMessageQuery = `SELECT ` + emailMessageColumns + ` FROM email_messages
		WHERE integration_id = ? AND external_message_id = ?`

	listEmailMessagesQuery = `SELECT ` + emailMessageColumns + ` FROM email_messages
		WHERE integration_id = ? ORDER BY received_at DESC, id ASC LIMIT ?`
)
