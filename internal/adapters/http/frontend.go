package http

import (
	"net/http"
)

// frontendHTML is the embedded HTML for the region query frontend.
// Mobile-first, responsive design with pure CSS.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Strata - Region Query</title>
    <style>
        :root {
            --primary: #2563eb;
            --primary-dark: #1d4ed8;
            --success: #16a34a;
            --error: #dc2626;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --text-muted: #64748b;
            --border: #e2e8f0;
            --radius: 8px;
            --shadow: 0 1px 3px rgba(0,0,0,0.1);
        }

        * {
            box-sizing: border-box;
            margin: 0;
            padding: 0;
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.5;
            padding: 1rem;
        }

        .container {
            max-width: 640px;
            margin: 0 auto;
        }

        h1 {
            font-size: 1.5rem;
            margin-bottom: 0.25rem;
        }

        .subtitle {
            color: var(--text-muted);
            margin-bottom: 1.5rem;
        }

        .card {
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: var(--radius);
            box-shadow: var(--shadow);
            padding: 1.25rem;
            margin-bottom: 1rem;
        }

        label {
            display: block;
            font-size: 0.875rem;
            font-weight: 600;
            margin-bottom: 0.25rem;
        }

        input, select {
            width: 100%;
            padding: 0.5rem 0.75rem;
            border: 1px solid var(--border);
            border-radius: var(--radius);
            font-size: 1rem;
            margin-bottom: 0.75rem;
        }

        .grid {
            display: grid;
            grid-template-columns: 1fr 1fr;
            gap: 0 0.75rem;
        }

        button {
            width: 100%;
            background: var(--primary);
            color: #fff;
            border: none;
            border-radius: var(--radius);
            padding: 0.625rem;
            font-size: 1rem;
            font-weight: 600;
            cursor: pointer;
        }

        button:hover {
            background: var(--primary-dark);
        }

        #result {
            white-space: pre-wrap;
            font-family: ui-monospace, SFMono-Regular, Menlo, monospace;
            font-size: 0.8125rem;
            overflow-x: auto;
        }

        .error { color: var(--error); }
        .muted { color: var(--text-muted); font-size: 0.875rem; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Strata</h1>
        <p class="subtitle">Spatial catalog region query</p>

        <div class="card">
            <label for="layer">Layer</label>
            <select id="layer"></select>

            <div class="grid">
                <div>
                    <label for="minx">Min X</label>
                    <input type="number" step="any" id="minx" value="0">
                </div>
                <div>
                    <label for="miny">Min Y</label>
                    <input type="number" step="any" id="miny" value="0">
                </div>
                <div>
                    <label for="maxx">Max X</label>
                    <input type="number" step="any" id="maxx" value="1">
                </div>
                <div>
                    <label for="maxy">Max Y</label>
                    <input type="number" step="any" id="maxy" value="1">
                </div>
            </div>

            <label for="zoom">Zoom (raster layers)</label>
            <input type="number" min="0" id="zoom" value="0">

            <button id="run">Query</button>
        </div>

        <div class="card">
            <div id="result" class="muted">No query yet.</div>
        </div>
    </div>

    <script>
        const result = document.getElementById('result');
        const layerSelect = document.getElementById('layer');

        async function loadLayers() {
            try {
                const resp = await fetch('/api/v1/layers');
                const data = await resp.json();
                layerSelect.innerHTML = '';
                for (const layer of data.layers || []) {
                    const opt = document.createElement('option');
                    opt.value = layer.id;
                    opt.textContent = layer.id + ' (' + layer.kind + ', ' + layer.crs + ')';
                    layerSelect.appendChild(opt);
                }
                if (!layerSelect.options.length) {
                    result.textContent = 'No layers registered yet.';
                }
            } catch (err) {
                result.innerHTML = '<span class="error">Failed to load layers: ' + err + '</span>';
            }
        }

        async function runQuery() {
            const layer = layerSelect.value;
            if (!layer) return;

            const params = new URLSearchParams({
                min_x: document.getElementById('minx').value,
                min_y: document.getElementById('miny').value,
                max_x: document.getElementById('maxx').value,
                max_y: document.getElementById('maxy').value,
                zoom: document.getElementById('zoom').value
            });

            result.textContent = 'Querying...';
            try {
                const resp = await fetch('/api/v1/layers/' + encodeURIComponent(layer) + '/query?' + params);
                const data = await resp.json();
                if (!resp.ok) {
                    result.innerHTML = '<span class="error">' + (data.message || data.error || resp.status) + '</span>';
                    return;
                }
                result.textContent = JSON.stringify(data, null, 2);
            } catch (err) {
                result.innerHTML = '<span class="error">' + err + '</span>';
            }
        }

        document.getElementById('run').addEventListener('click', runQuery);
        loadLayers();
    </script>
</body>
</html>`

// handleFrontend serves the embedded region query frontend.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
