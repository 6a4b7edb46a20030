// Package template ships the default project template seeded into every
// freshly created compose (spec.md §6: "an implementation must ship one
// default template (vite-react)... unknown ids fall back to default").
package template

import "github.com/Aadithya-J/code_nest/services/runtime-service/internal/orchestrator"

const DefaultTemplateID = "vite-react"

var registry = map[string]orchestrator.Template{
	DefaultTemplateID: viteReact,
}

// Resolve returns the template for id, falling back to the default
// template for an unknown or empty id.
func Resolve(id string) orchestrator.Template {
	if t, ok := registry[id]; ok {
		return t
	}
	return registry[DefaultTemplateID]
}

var viteReact = orchestrator.Template{
	ID: DefaultTemplateID,
	ComposeFile: `services:
  app:
    image: node:20-alpine
    working_dir: /workspace/project
    command: sh -c "npm install && npm run dev -- --host 0.0.0.0 --port 4173"
    ports:
      - "4173"
`,
	Files: map[string]string{
		"package.json": `{
  "name": "runtime-workspace",
  "private": true,
  "type": "module",
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "preview": "vite preview"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.1",
    "vite": "^5.4.0"
  }
}
`,
		"vite.config.js": `import { defineConfig } from "vite";
import react from "@vitejs/plugin-react";

export default defineConfig({
  plugins: [react()],
  server: { host: true, port: 4173 },
  preview: { host: true, port: 4173 },
});
`,
		"index.html": `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <title>runtime workspace</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`,
		"src/main.jsx": `import React from "react";
import ReactDOM from "react-dom/client";
import App from "./App.jsx";

ReactDOM.createRoot(document.getElementById("root")).render(<App />);
`,
		"src/App.jsx": `export default function App() {
  return (
    <main>
      <h1>Runtime workspace</h1>
      <p>Start editing to see your changes.</p>
    </main>
  );
}
`,
	},
}
