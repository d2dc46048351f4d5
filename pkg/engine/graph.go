package engine

import (
	"context"

	"github.com/dukex/handoff/pkg/models"
	"github.com/dukex/handoff/pkg/persistence"
)

// GraphView is the read-only node and connection lookup of one instance. It is backed by the
// instance snapshot, or by the live template for instances started before snapshots existed.
type GraphView struct {
	TemplateName string
	FromSnapshot bool

	nodes    []*models.WorkflowNode
	byID     map[string]*models.WorkflowNode
	outgoing map[string][]*models.WorkflowConnection
	incoming map[string][]*models.WorkflowConnection
}

func NewGraphView(templateName string, nodes []*models.WorkflowNode, connections []*models.WorkflowConnection) *GraphView {
	g := &GraphView{
		TemplateName: templateName,
		nodes:        nodes,
		byID:         make(map[string]*models.WorkflowNode, len(nodes)),
		outgoing:     make(map[string][]*models.WorkflowConnection),
		incoming:     make(map[string][]*models.WorkflowConnection),
	}

	for _, node := range nodes {
		g.byID[node.ID] = node
	}

	for _, conn := range connections {
		g.outgoing[conn.FromNodeID] = append(g.outgoing[conn.FromNodeID], conn)
		g.incoming[conn.ToNodeID] = append(g.incoming[conn.ToNodeID], conn)
	}

	return g
}

func (g *GraphView) Node(id string) (*models.WorkflowNode, bool) {
	node, ok := g.byID[id]

	return node, ok
}

func (g *GraphView) Nodes() []*models.WorkflowNode {
	return g.nodes
}

// Outgoing returns the connections leaving a node, in template order.
func (g *GraphView) Outgoing(nodeID string) []*models.WorkflowConnection {
	return g.outgoing[nodeID]
}

func (g *GraphView) Incoming(nodeID string) []*models.WorkflowConnection {
	return g.incoming[nodeID]
}

// NodesOfType returns the nodes of the given type in template order.
func (g *GraphView) NodesOfType(nodeType models.NodeType) []*models.WorkflowNode {
	var out []*models.WorkflowNode

	for _, node := range g.nodes {
		if node.Type == nodeType {
			out = append(out, node)
		}
	}

	return out
}

func (g *GraphView) label(nodeID string) string {
	if node, ok := g.byID[nodeID]; ok {
		return node.Label
	}

	return nodeID
}

func (e *Engine) graphFor(ctx context.Context, op string, instance *models.WorkflowInstance) (*GraphView, error) {
	if snapshot := instance.StartedSnapshot; snapshot != nil {
		graph := NewGraphView(snapshot.TemplateName, snapshot.Nodes, snapshot.Connections)
		graph.FromSnapshot = true

		return graph, nil
	}

	template, err := e.persistence.TemplateRepository().GetByID(ctx, instance.TemplateID)
	if err != nil {
		if persistence.IsTemplateNotFound(err) {
			return nil, &NotFoundError{Op: op, Resource: "template", ID: instance.TemplateID, Err: err}
		}

		return nil, err
	}

	e.logger.WarnContext(ctx, "Instance has no snapshot, reading live template",
		"instance_id", instance.ID,
		"template_id", instance.TemplateID)

	return NewGraphView(template.Name, template.Nodes, template.Connections), nil
}

func (e *Engine) nodeOf(op string, graph *GraphView, nodeID string) (*models.WorkflowNode, error) {
	node, ok := graph.Node(nodeID)
	if !ok {
		return nil, &NotFoundError{Op: op, Resource: "node", ID: nodeID}
	}

	return node, nil
}

// InstanceGraph loads an instance together with the graph it runs on.
func (e *Engine) InstanceGraph(ctx context.Context, instanceID string) (*models.WorkflowInstance, *GraphView, error) {
	const op = "InstanceGraph"

	instance, err := e.loadInstance(ctx, op, instanceID)
	if err != nil {
		return nil, nil, err
	}

	graph, err := e.graphFor(ctx, op, instance)
	if err != nil {
		return nil, nil, err
	}

	return instance, graph, nil
}
