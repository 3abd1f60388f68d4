package agent

import (
	_ "embed"
	"sort"
	"strings"
	"text/template"
)

//go:embed prompt.tmpl
var promptTemplateText string

var promptTemplate = template.Must(template.New("prompt.tmpl").Parse(promptTemplateText))

// ProjectDirResolver finds the directory the agent should treat as the
// project root.
type ProjectDirResolver interface {
	ProjectDir() string
}

type Composer struct {
	projects ProjectDirResolver
}

func NewComposer(projects ProjectDirResolver) *Composer {
	return &Composer{projects: projects}
}

type promptSnippet struct {
	Name string
	Text string
}

type promptPlugin struct {
	Name     string
	Snippets []promptSnippet
}

type promptData struct {
	HasElements bool
	UserMessage string
	ProjectDir  string
	URL         string
	Title       string
	Elements    []string
	Plugins     []promptPlugin
}

// Compose renders the request prompt for msg. Routing directives must already
// be stripped.
func (c *Composer) Compose(msg UserMessage) (string, error) {
	data := promptData{
		HasElements: len(msg.Metadata.SelectedElements) > 0,
		UserMessage: joinText(msg.ContentItems),
		URL:         msg.Metadata.CurrentURL,
		Title:       msg.Metadata.CurrentTitle,
		Plugins:     pluginContexts(msg.PluginContent),
	}
	if c != nil && c.projects != nil {
		data.ProjectDir = c.projects.ProjectDir()
	}
	for _, el := range msg.Metadata.SelectedElements {
		data.Elements = append(data.Elements, elementContext(el, false))
	}

	var b strings.Builder
	if err := promptTemplate.ExecuteTemplate(&b, "prompt", data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func joinText(items []ContentItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type == ContentTypeText {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// pluginContexts keeps text snippets only and drops plugins left empty.
// Plugins and snippets are sorted by name.
func pluginContexts(content map[string]map[string]ContentItem) []promptPlugin {
	names := make([]string, 0, len(content))
	for name := range content {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]promptPlugin, 0, len(names))
	for _, name := range names {
		snippets := content[name]
		keys := make([]string, 0, len(snippets))
		for key, item := range snippets {
			if item.Type == ContentTypeText {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			continue
		}
		sort.Strings(keys)
		p := promptPlugin{Name: name}
		for _, key := range keys {
			p.Snippets = append(p.Snippets, promptSnippet{Name: key, Text: snippets[key].Text})
		}
		out = append(out, p)
	}
	return out
}

// elementContext renders one element. Its direct parent is rendered
// compactly (tag, class, id, xpath); further ancestors are left out.
func elementContext(el SelectedElement, compact bool) string {
	lines := []string{"<tag>" + el.NodeType + "</tag>"}
	class := el.Attributes["class"]
	if class == "" {
		class = el.Attributes["className"]
	}
	if class != "" {
		lines = append(lines, "<class>"+class+"</class>")
	}
	if id := el.Attributes["id"]; id != "" {
		lines = append(lines, "<id>"+id+"</id>")
	}
	if !compact {
		keys := make([]string, 0, len(el.Attributes))
		for key := range el.Attributes {
			switch key {
			case "class", "className", "id":
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			lines = append(lines, "<"+key+">"+el.Attributes[key]+"</"+key+">")
		}
	}
	lines = append(lines, "<xpath>"+el.XPath+"</xpath>")
	if compact {
		return indent(lines)
	}

	if text := strings.TrimSpace(el.TextContent); text != "" {
		lines = append(lines, "<text_content>"+text+"</text_content>")
	}
	if len(el.PluginInfo) > 0 {
		info := make([]string, 0, len(el.PluginInfo)+2)
		info = append(info, "<plugin_info>")
		for _, p := range el.PluginInfo {
			info = append(info, "  <"+p.PluginName+">"+p.Content+"</"+p.PluginName+">")
		}
		info = append(info, "</plugin_info>")
		lines = append(lines, strings.Join(info, "\n  "))
	}
	if el.Parent != nil {
		lines = append(lines, "<parent>\n"+elementContext(*el.Parent, true)+"\n  </parent>")
	}
	return indent(lines)
}

func indent(lines []string) string {
	return "  " + strings.Join(lines, "\n  ")
}
