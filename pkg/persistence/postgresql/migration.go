package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_templates (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_nodes (
				template_id VARCHAR(255) NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				label VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255),
				settings JSONB NOT NULL DEFAULT '{}',
				position INT NOT NULL DEFAULT 0,
				PRIMARY KEY (template_id, id)
			);

			CREATE TABLE workflow_connections (
				template_id VARCHAR(255) NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				from_node_id VARCHAR(255) NOT NULL,
				to_node_id VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL DEFAULT '',
				condition JSONB,
				position INT NOT NULL DEFAULT 0,
				PRIMARY KEY (template_id, id),
				FOREIGN KEY (template_id, from_node_id) REFERENCES workflow_nodes(template_id, id) ON DELETE CASCADE,
				FOREIGN KEY (template_id, to_node_id) REFERENCES workflow_nodes(template_id, id) ON DELETE CASCADE
			);

			-- Instances keep no foreign key to templates: they run from their snapshot.
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				template_id VARCHAR(255) NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'cancelled')),
				started_snapshot JSONB,
				started_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_active_steps (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				branch_id VARCHAR(512) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'waiting')),
				assigned_user_id VARCHAR(255),
				activated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE workflow_node_assignments (
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (instance_id, node_id, user_id)
			);

			CREATE TABLE workflow_approvals (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				active_step_id VARCHAR(255) NOT NULL,
				branch_id VARCHAR(512) NOT NULL,
				decision VARCHAR(50) NOT NULL,
				feedback TEXT NOT NULL DEFAULT '',
				decided_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_form_responses (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				active_step_id VARCHAR(255) NOT NULL,
				submitted_by VARCHAR(255) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflow_history (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				from_node_id VARCHAR(255) NOT NULL,
				to_node_id VARCHAR(255),
				handed_off_at TIMESTAMP WITH TIME ZONE NOT NULL,
				notes TEXT NOT NULL DEFAULT '',
				form_data JSONB,
				form_response_id VARCHAR(255),
				actor_id VARCHAR(255) NOT NULL DEFAULT '',
				sequence BIGSERIAL NOT NULL
			);
		`,
		2: `
			CREATE INDEX idx_workflow_instances_project_id ON workflow_instances(project_id);
			CREATE INDEX idx_workflow_active_steps_instance_id ON workflow_active_steps(instance_id);
			CREATE INDEX idx_workflow_approvals_instance_id ON workflow_approvals(instance_id);
			CREATE INDEX idx_workflow_form_responses_instance_id ON workflow_form_responses(instance_id);
			CREATE INDEX idx_workflow_history_instance_order ON workflow_history(instance_id, handed_off_at, sequence);
		`,
	}
}
