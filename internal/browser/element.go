package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// element is a DOM node owned by a Session.
type element struct {
	s    *Session
	node *cdp.Node
}

func wrapNodes(s *Session, nodes []*cdp.Node) []voyage.Element {
	out := make([]voyage.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{s: s, node: n})
	}
	return out
}

func asNode(el voyage.Element) (*element, error) {
	n, ok := el.(*element)
	if !ok || n == nil || n.node == nil {
		return nil, fmt.Errorf("element %T does not belong to a browser session", el)
	}
	return n, nil
}

func (e *element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

// Text returns the node's text content.
func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.s.run(ctx, e.s.cfg.navTimeout(), chromedp.TextContent(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

// Attr returns the named attribute and whether it is present.
func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := e.s.run(ctx, e.s.cfg.navTimeout(), chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("read attribute %s: %w", name, err)
	}
	return value, ok, nil
}

// Find returns descendants matching selector without waiting.
func (e *element) Find(ctx context.Context, selector string) ([]voyage.Element, error) {
	var nodes []*cdp.Node
	action := chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.FromNode(e.node), chromedp.AtLeast(0))
	if err := e.s.run(ctx, e.s.cfg.navTimeout(), action); err != nil {
		return nil, fmt.Errorf("find %s: %w", selector, err)
	}
	return wrapNodes(e.s, nodes), nil
}
