package engine

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dukex/handoff/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Conditional node edge labels.
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

type templateChecker struct {
	problems []string
}

func (c *templateChecker) addf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// ValidateTemplate checks the structure of a template graph and returns a TemplateInvalidError
// listing every problem found. Nodes without settings get the zero settings of their type.
func ValidateTemplate(template *models.WorkflowTemplate) error {
	c := &templateChecker{}

	seen := make(map[string]bool, len(template.Nodes))

	for _, node := range template.Nodes {
		if node.ID == "" {
			c.addf("node %q has no id", node.Label)

			continue
		}

		if seen[node.ID] {
			c.addf("duplicate node id %s", node.ID)
		}

		seen[node.ID] = true

		if !node.Type.Valid() {
			c.addf("node %s has unknown type %q", node.ID, node.Type)

			continue
		}

		if node.Settings == nil {
			node.Settings, _ = models.NewSettings(node.Type)
		}

		if node.Settings.NodeType() != node.Type {
			c.addf("node %s of type %s carries %s settings", node.ID, node.Type, node.Settings.NodeType())
		}
	}

	if starts := template.StartNodes(); len(starts) != 1 {
		c.addf("template must have exactly one start node, found %d", len(starts))
	}

	if len(template.EndNodes()) == 0 {
		c.addf("template must have at least one end node")
	}

	for _, conn := range template.Connections {
		if !seen[conn.FromNodeID] {
			c.addf("connection %s starts at unknown node %s", conn.ID, conn.FromNodeID)
		}

		if !seen[conn.ToNodeID] {
			c.addf("connection %s ends at unknown node %s", conn.ID, conn.ToNodeID)
		}
	}

	graph := NewGraphView(template.Name, template.Nodes, template.Connections)

	for _, node := range template.Nodes {
		if !node.Type.Valid() {
			continue
		}

		c.checkEdges(graph, node)
		c.checkSettings(node)
	}

	c.checkReachable(graph)

	if len(c.problems) > 0 {
		return &TemplateInvalidError{TemplateID: template.ID, Problems: c.problems}
	}

	return nil
}

func (c *templateChecker) checkEdges(graph *GraphView, node *models.WorkflowNode) {
	outgoing := graph.Outgoing(node.ID)

	switch node.Type {
	case models.NodeTypeEnd:
		if len(outgoing) > 0 {
			c.addf("end node %s has outgoing connections", node.ID)
		}

		return
	case models.NodeTypeApproval:
		c.checkApprovalEdges(node, outgoing)

		return
	}

	routable := slices.DeleteFunc(slices.Clone(outgoing), func(conn *models.WorkflowConnection) bool {
		return conn.Condition.IsApprovalDecision()
	})
	if len(routable) == 0 {
		c.addf("node %s has no outgoing connection", node.ID)

		return
	}

	if node.Type != models.NodeTypeConditional {
		return
	}

	settings, _ := node.Settings.(*models.ConditionalSettings)
	if settings == nil || settings.Expression == "" {
		return
	}

	if _, err := models.ParseConditional(settings.Expression); err != nil {
		c.addf("conditional node %s: %v", node.ID, err)
	}

	for _, conn := range routable {
		label := normalizeLabel(conn.Label)
		if label != LabelTrue && label != LabelFalse {
			c.addf("connection %s leaving conditional node %s must be labelled true or false", conn.ID, node.ID)
		}
	}
}

func (c *templateChecker) checkApprovalEdges(node *models.WorkflowNode, outgoing []*models.WorkflowConnection) {
	if len(outgoing) == 0 {
		c.addf("approval node %s has no outgoing connection", node.ID)

		return
	}

	var supported []string
	if settings, ok := node.Settings.(*models.ApprovalSettings); ok {
		supported = settings.Decisions
	}

	claimed := make(map[string]string)

	for _, conn := range outgoing {
		decision := conn.Condition.DecisionValue()
		if !conn.Condition.IsApprovalDecision() || decision == "" {
			c.addf("connection %s leaving approval node %s has no approval decision", conn.ID, node.ID)

			continue
		}

		if other, dup := claimed[decision]; dup {
			c.addf("approval node %s routes decision %q to both %s and %s", node.ID, decision, other, conn.ToNodeID)

			continue
		}

		claimed[decision] = conn.ToNodeID

		if len(supported) > 0 && !slices.Contains(supported, decision) {
			c.addf("approval node %s does not support decision %q", node.ID, decision)
		}
	}

	for _, decision := range supported {
		if _, ok := claimed[decision]; !ok {
			c.addf("approval node %s has no connection for decision %q", node.ID, decision)
		}
	}
}

func (c *templateChecker) checkSettings(node *models.WorkflowNode) {
	settings, ok := node.Settings.(*models.FormSettings)
	if !ok {
		return
	}

	ids := make(map[string]bool, len(settings.Fields))
	for _, field := range settings.Fields {
		ids[field.ID] = true
	}

	seen := make(map[string]bool, len(settings.Fields))

	for _, field := range settings.Fields {
		if field.ID == "" {
			c.addf("form node %s has a field without id", node.ID)

			continue
		}

		if seen[field.ID] {
			c.addf("form node %s has duplicate field %s", node.ID, field.ID)
		}

		seen[field.ID] = true

		if !field.Type.Valid() {
			c.addf("field %s of form node %s has unknown type %q", field.ID, node.ID, field.Type)
		}

		if (field.Type == models.FieldTypeSelect || field.Type == models.FieldTypeMultiselect) && len(field.Options) == 0 {
			c.addf("field %s of form node %s has no options", field.ID, node.ID)
		}

		if v := field.Validation; v != nil {
			if v.Pattern != "" {
				if _, err := regexp.Compile(v.Pattern); err != nil {
					c.addf("field %s of form node %s has an invalid pattern: %v", field.ID, node.ID, err)
				}
			}

			if v.Schema != nil {
				if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(v.Schema)); err != nil {
					c.addf("field %s of form node %s has an invalid schema: %v", field.ID, node.ID, err)
				}
			}
		}

		if vis := field.Conditional; vis != nil && !ids[vis.FieldID] {
			c.addf("field %s of form node %s depends on unknown field %q", field.ID, node.ID, vis.FieldID)
		}
	}
}

func (c *templateChecker) checkReachable(graph *GraphView) {
	starts := graph.NodesOfType(models.NodeTypeStart)
	if len(starts) != 1 {
		return
	}

	reached := map[string]bool{starts[0].ID: true}
	queue := []string{starts[0].ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, conn := range graph.Outgoing(current) {
			if !reached[conn.ToNodeID] {
				reached[conn.ToNodeID] = true
				queue = append(queue, conn.ToNodeID)
			}
		}
	}

	for _, node := range graph.Nodes() {
		if !reached[node.ID] {
			c.addf("node %s is not reachable from the start node", node.ID)
		}
	}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
