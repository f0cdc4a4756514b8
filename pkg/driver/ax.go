package driver

import (
	"encoding/json"
	"fmt"
)

// cdpAXNode is the subset of a CDP Accessibility.AXNode we read.
type cdpAXNode struct {
	NodeID      string      `json:"nodeId"`
	Ignored     bool        `json:"ignored"`
	Role        *cdpAXValue `json:"role"`
	Name        *cdpAXValue `json:"name"`
	Description *cdpAXValue `json:"description"`
	Value       *cdpAXValue `json:"value"`
	Properties  []cdpAXProp `json:"properties"`
	ChildIDs    []string    `json:"childIds"`
	ParentID    string      `json:"parentId"`
}

type cdpAXValue struct {
	Value any `json:"value"`
}

type cdpAXProp struct {
	Name  string      `json:"name"`
	Value *cdpAXValue `json:"value"`
}

func (v *cdpAXValue) String() string {
	if v == nil || v.Value == nil {
		return ""
	}
	if s, ok := v.Value.(string); ok {
		return s
	}
	return fmt.Sprint(v.Value)
}

// Roles that only carry layout or raw text and are dropped from an
// interesting-only snapshot unless they have a name.
var boringRoles = map[string]bool{
	"none":             true,
	"generic":          true,
	"presentation":     true,
	"InlineTextBox":    true,
	"LineBreak":        true,
	"StaticText":       true,
	"GenericContainer": true,
}

// buildAXTree turns the raw Accessibility.getFullAXTree result into an AXNode
// tree rooted at the node without a parent.
func buildAXTree(raw any, interestingOnly bool) (*AXNode, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode accessibility tree: %w", err)
	}
	var payload struct {
		Nodes []cdpAXNode `json:"nodes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode accessibility tree: %w", err)
	}
	return assembleAXTree(payload.Nodes, interestingOnly)
}

func assembleAXTree(nodes []cdpAXNode, interestingOnly bool) (*AXNode, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("accessibility tree is empty")
	}

	byID := make(map[string]*cdpAXNode, len(nodes))
	var root *cdpAXNode
	for i := range nodes {
		n := &nodes[i]
		byID[n.NodeID] = n
		if root == nil && n.ParentID == "" {
			root = n
		}
	}
	if root == nil {
		root = &nodes[0]
	}

	visited := make(map[string]bool, len(nodes))
	var convert func(n *cdpAXNode) []*AXNode
	convert = func(n *cdpAXNode) []*AXNode {
		if visited[n.NodeID] {
			return nil
		}
		visited[n.NodeID] = true

		var children []*AXNode
		for _, id := range n.ChildIDs {
			if child, ok := byID[id]; ok {
				children = append(children, convert(child)...)
			}
		}

		role := n.Role.String()
		name := n.Name.String()
		if interestingOnly && (n.Ignored || (boringRoles[role] && name == "")) {
			// Lift children into the parent
			return children
		}

		node := &AXNode{
			Role:        role,
			Name:        name,
			Value:       n.Value.String(),
			Description: n.Description.String(),
			Children:    children,
		}
		for _, p := range n.Properties {
			switch p.Name {
			case "focused":
				node.Focused = p.Value.String() == "true"
			case "disabled":
				node.Disabled = p.Value.String() == "true"
			case "checked":
				node.Checked = p.Value.String()
			}
		}
		return []*AXNode{node}
	}

	top := convert(root)
	switch len(top) {
	case 0:
		return &AXNode{Role: "RootWebArea"}, nil
	case 1:
		return top[0], nil
	default:
		return &AXNode{Role: "RootWebArea", Children: top}, nil
	}
}
