package agent

import (
	"regexp"
	"time"
)

const ContentTypeText = "text"

// ContentItem is a tagged union keyed by Type. Only text items are rendered;
// unknown types are kept and ignored.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type PluginInfo struct {
	PluginName string `json:"pluginName"`
	Content    string `json:"content"`
}

// SelectedElement is a DOM element picked in the overlay. Ancestors form a
// singly linked chain through Parent.
type SelectedElement struct {
	NodeType    string            `json:"nodeType"`
	XPath       string            `json:"xpath"`
	Attributes  map[string]string `json:"attributes"`
	TextContent string            `json:"textContent,omitempty"`
	PluginInfo  []PluginInfo      `json:"pluginInfo,omitempty"`
	Parent      *SelectedElement  `json:"parent,omitempty"`
}

type Metadata struct {
	SelectedElements []SelectedElement `json:"selectedElements"`
	CurrentURL       string            `json:"currentUrl"`
	CurrentTitle     string            `json:"currentTitle"`
}

type UserMessage struct {
	ID            string                            `json:"id"`
	CreatedAt     time.Time                         `json:"createdAt"`
	ContentItems  []ContentItem                     `json:"contentItems"`
	Metadata      Metadata                          `json:"metadata"`
	PluginContent map[string]map[string]ContentItem `json:"pluginContent"`
}

var targetDirective = regexp.MustCompile(`^\[\[OPENUI_TARGET_AGENT:(.+)\]\]$`)

// TargetDirective renders the routing item the overlay appends to request a
// specific integration.
func TargetDirective(name string) ContentItem {
	return ContentItem{Type: ContentTypeText, Text: "[[OPENUI_TARGET_AGENT:" + name + "]]"}
}

// ExtractTarget removes routing directives from the message and returns the
// requested target. When several directives are present the last one wins.
// The input message is not modified.
func ExtractTarget(msg UserMessage) (UserMessage, string) {
	target := ""
	items := make([]ContentItem, 0, len(msg.ContentItems))
	for _, item := range msg.ContentItems {
		if item.Type == ContentTypeText {
			if m := targetDirective.FindStringSubmatch(item.Text); m != nil {
				target = m[1]
				continue
			}
		}
		items = append(items, item)
	}
	msg.ContentItems = items
	return msg, target
}
