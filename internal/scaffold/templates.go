package scaffold

// BootstrapFileName is the entry-point script written at scaffold time. The
// filesystem reconciler skips it because its record already exists before
// the watcher starts.
const BootstrapFileName = "run.sh"

// TemplateFile is one scaffolded file with its initial content.
type TemplateFile struct {
	Name    string
	Content string
}

// Template describes everything a project type needs: the scaffold file set
// and the sandbox image recipe.
type Template struct {
	Type      string
	BaseImage string
	Files     []TemplateFile
	RunScript string
}

var templates = map[string]Template{
	"static": {
		Type:      "static",
		BaseImage: "busybox:stable",
		Files: []TemplateFile{
			{Name: "index.html", Content: "<!DOCTYPE html>\n<html>\n  <head>\n    <title>coderoom</title>\n    <link rel=\"stylesheet\" href=\"style.css\" />\n  </head>\n  <body>\n    <h1>Hello from coderoom</h1>\n    <script src=\"index.js\"></script>\n  </body>\n</html>\n"},
			{Name: "style.css", Content: "body {\n  font-family: sans-serif;\n  margin: 2rem;\n}\n"},
			{Name: "index.js", Content: "console.log('hello from coderoom');\n"},
		},
		RunScript: "#!/bin/sh\nexec httpd -f -p 8080 -h /app\n",
	},
	"node": {
		Type:      "node",
		BaseImage: "node:20-alpine",
		Files: []TemplateFile{
			{Name: "index.js", Content: "const http = require('http');\n\nconst server = http.createServer((req, res) => {\n  res.end('hello from coderoom');\n});\n\nserver.listen(8080);\n"},
			{Name: "package.json", Content: "{\n  \"name\": \"coderoom-project\",\n  \"version\": \"1.0.0\",\n  \"main\": \"index.js\",\n  \"scripts\": {\n    \"start\": \"node index.js\"\n  }\n}\n"},
		},
		RunScript: "#!/bin/sh\ncd /app\nexec node index.js\n",
	},
	"python": {
		Type:      "python",
		BaseImage: "python:3.12-alpine",
		Files: []TemplateFile{
			{Name: "main.py", Content: "from http.server import HTTPServer, SimpleHTTPRequestHandler\n\nif __name__ == '__main__':\n    HTTPServer(('', 8080), SimpleHTTPRequestHandler).serve_forever()\n"},
		},
		RunScript: "#!/bin/sh\ncd /app\nexec python main.py\n",
	},
}

// Lookup returns the template for a project type.
func Lookup(projectType string) (Template, bool) {
	tpl, ok := templates[projectType]
	return tpl, ok
}

// Types lists the supported project types.
func Types() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}
