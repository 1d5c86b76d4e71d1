package stream

import (
	"bytes"
	"fmt"
	"html/template"

	"logmux/src/internal/config"
)

// Rendered lines kept per panel before the oldest are pruned
const pageMaxLines = 2000

type pageData struct {
	StreamPath    string
	FilesPath     string
	ProducerMatch string
	ConsumerMatch string
	MaxLines      int
}

// renderPages bakes the viewer and dashboard HTML once at startup.
// Endpoint paths and dashboard match strings come from config, so the
// pages always point at the routes this instance actually serves.
func renderPages(cfg *config.HTTPConfig) (index, dashboard []byte, err error) {
	data := pageData{
		StreamPath:    cfg.StreamPath,
		FilesPath:     cfg.FilesPath,
		ProducerMatch: cfg.Dashboard.ProducerMatch,
		ConsumerMatch: cfg.Dashboard.ConsumerMatch,
		MaxLines:      pageMaxLines,
	}

	index, err = renderPage("index", indexPageTemplate, data)
	if err != nil {
		return nil, nil, err
	}
	dashboard, err = renderPage("dashboard", dashboardPageTemplate, data)
	if err != nil {
		return nil, nil, err
	}
	return index, dashboard, nil
}

func renderPage(name, text string, data pageData) ([]byte, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s page template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s page: %w", name, err)
	}
	return buf.Bytes(), nil
}

const indexPageTemplate = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>logmux</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/css/bootstrap.min.css" rel="stylesheet">
    <style>
      body { padding-top: 1rem; }
      pre { white-space: pre-wrap; }
      .log-line { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, "Liberation Mono", "Courier New", monospace; font-size: 12px; }
      .sticky-top-2 { position: sticky; top: 0; z-index: 1000; background: white; padding-top: .5rem; padding-bottom: .5rem; }
    </style>
  </head>
  <body>
    <div class="container-fluid">
      <div class="row sticky-top-2">
        <div class="col-md-8 d-flex align-items-end gap-2">
          <div>
            <label class="form-label">Files</label>
            <select id="files" class="form-select" multiple size="3"></select>
          </div>
          <div class="flex-grow-1">
            <label class="form-label">Filter (key=value pairs: level=INFO, component=mcp-server)</label>
            <input id="filter" type="text" class="form-control" placeholder="level=ERROR,component=mcp-server">
          </div>
          <div>
            <label class="form-label">Follow</label>
            <div class="form-check form-switch">
              <input class="form-check-input" type="checkbox" role="switch" id="follow" checked>
              <label class="form-check-label" for="follow">Auto-scroll</label>
            </div>
          </div>
          <div class="align-self-end">
            <a href="/dashboard" class="btn btn-outline-secondary">Dashboard</a>
            <button id="apply" class="btn btn-primary">Apply</button>
          </div>
        </div>
        <div class="col-md-4">
          <div class="card">
            <div class="card-body">
              <div class="d-flex justify-content-between">
                <strong>Tips</strong>
                <span id="status" class="text-muted">idle</span>
              </div>
              <div>- Multiple files: Cmd/Ctrl-click to select more.</div>
              <div>- Filter is key=value pairs separated by commas.</div>
              <div>- Examples: level=ERROR, component=mcp-client-chat</div>
            </div>
          </div>
        </div>
      </div>
      <div class="row mt-2">
        <div class="col-12">
          <div id="log" class="border rounded p-2" style="height: 70vh; overflow: auto;"></div>
        </div>
      </div>
    </div>

    <script>
      let es;
      const maxLines = {{.MaxLines}};

      function fetchFiles() {
        fetch('{{.FilesPath}}').then(r => r.json()).then(files => {
          const s = document.getElementById('files');
          s.innerHTML = '';
          files.forEach(f => {
            const opt = document.createElement('option');
            opt.value = f;
            opt.textContent = f;
            s.appendChild(opt);
          });
        });
      }

      function setStatus(txt) {
        document.getElementById('status').textContent = txt;
      }

      function appendLine(el, txt) {
        const div = document.createElement('div');
        div.className = 'log-line';
        div.textContent = txt;
        el.appendChild(div);
        while (el.childNodes.length > maxLines) {
          el.removeChild(el.firstChild);
        }
      }

      function startStream() {
        if (es) es.close();
        const selected = Array.from(document.getElementById('files').selectedOptions).map(o => o.value);
        const filterTxt = document.getElementById('filter').value.trim();
        const params = new URLSearchParams();
        if (selected.length) params.set('files', selected.join(','));
        if (filterTxt) params.set('filter', filterTxt);
        es = new EventSource('{{.StreamPath}}?' + params.toString());
        const log = document.getElementById('log');
        log.innerHTML = '';
        setStatus('connecting');
        es.addEventListener('connected', () => setStatus('live'));
        es.onerror = () => setStatus('disconnected');
        es.onmessage = (ev) => {
          appendLine(log, ev.data);
          if (document.getElementById('follow').checked) {
            log.scrollTop = log.scrollHeight;
          }
        };
      }

      document.getElementById('apply').addEventListener('click', startStream);
      window.addEventListener('load', () => {
        fetchFiles();
        setTimeout(startStream, 300);
      });
    </script>
  </body>
</html>
`

const dashboardPageTemplate = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>logmux dashboard</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/css/bootstrap.min.css" rel="stylesheet">
    <style>
      body { padding-top: 1rem; }
      .log-line { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, "Liberation Mono", "Courier New", monospace; font-size: 12px; }
      .panel { height: 28vh; overflow: auto; border: 1px solid #e5e5e5; border-radius: .5rem; padding: .5rem; background: #fff; }
      .controls { position: sticky; top: 0; z-index: 1000; background: white; padding: .25rem 0; }
    </style>
  </head>
  <body>
    <div class="container-fluid">
      <div class="d-flex justify-content-between align-items-center mb-2">
        <h5 class="m-0">logmux dashboard</h5>
        <div class="d-flex gap-2">
          <a href="/" class="btn btn-outline-secondary btn-sm">Advanced View</a>
          <button id="reload" class="btn btn-primary btn-sm">Reload Streams</button>
        </div>
      </div>

      <div class="row g-3">
        <div class="col-12">
          <div class="card">
            <div class="card-header">All Logs (merged)</div>
            <div class="card-body">
              <div class="controls d-flex gap-2 align-items-end">
                <div class="flex-grow-1">
                  <label class="form-label">Filter</label>
                  <input id="flt-all" type="text" class="form-control" placeholder="level=ERROR">
                </div>
                <div class="form-check form-switch">
                  <input class="form-check-input" type="checkbox" id="follow-all" checked>
                  <label class="form-check-label" for="follow-all">Follow</label>
                </div>
              </div>
              <div id="panel-all" class="panel"></div>
            </div>
          </div>
        </div>

        <div class="col-md-6">
          <div class="card">
            <div class="card-header">Producer Logs ({{.ProducerMatch}})</div>
            <div class="card-body">
              <div class="controls d-flex gap-2 align-items-end">
                <div class="flex-grow-1">
                  <label class="form-label">Filter</label>
                  <input id="flt-producer" type="text" class="form-control" placeholder="level=ERROR">
                </div>
                <div class="form-check form-switch">
                  <input class="form-check-input" type="checkbox" id="follow-producer" checked>
                  <label class="form-check-label" for="follow-producer">Follow</label>
                </div>
              </div>
              <div id="panel-producer" class="panel"></div>
            </div>
          </div>
        </div>

        <div class="col-md-6">
          <div class="card">
            <div class="card-header">Consumer Logs ({{.ConsumerMatch}})</div>
            <div class="card-body">
              <div class="controls d-flex gap-2 align-items-end">
                <div class="flex-grow-1">
                  <label class="form-label">Filter</label>
                  <input id="flt-consumer" type="text" class="form-control" placeholder="level=ERROR">
                </div>
                <div class="form-check form-switch">
                  <input class="form-check-input" type="checkbox" id="follow-consumer" checked>
                  <label class="form-check-label" for="follow-consumer">Follow</label>
                </div>
              </div>
              <div id="panel-consumer" class="panel"></div>
            </div>
          </div>
        </div>
      </div>
    </div>

    <script>
      let esAll, esProducer, esConsumer;
      const maxLines = {{.MaxLines}};

      async function getFiles() {
        const res = await fetch('{{.FilesPath}}');
        return await res.json();
      }

      function showEmpty(targetEl) {
        targetEl.innerHTML = '';
        const div = document.createElement('div');
        div.className = 'log-line text-muted';
        div.textContent = 'no matching files';
        targetEl.appendChild(div);
      }

      function openStream(targetEl, followEl, files, filterTxt) {
        const params = new URLSearchParams();
        if (files && files.length) params.set('files', files.join(','));
        if (filterTxt && filterTxt.trim()) params.set('filter', filterTxt.trim());
        const es = new EventSource('{{.StreamPath}}?' + params.toString());
        targetEl.innerHTML = '';
        es.onmessage = (ev) => {
          const div = document.createElement('div');
          div.className = 'log-line';
          div.textContent = ev.data;
          targetEl.appendChild(div);
          while (targetEl.childNodes.length > maxLines) {
            targetEl.removeChild(targetEl.firstChild);
          }
          if (followEl.checked) targetEl.scrollTop = targetEl.scrollHeight;
        };
        return es;
      }

      async function reload() {
        const files = await getFiles();
        const producerFiles = files.filter(f => f.includes('{{.ProducerMatch}}'));
        const consumerFiles = files.filter(f => f.includes('{{.ConsumerMatch}}'));

        if (esAll) esAll.close();
        if (esProducer) esProducer.close();
        if (esConsumer) esConsumer.close();

        esAll = openStream(
          document.getElementById('panel-all'),
          document.getElementById('follow-all'),
          files,
          document.getElementById('flt-all').value
        );
        if (producerFiles.length) {
          esProducer = openStream(
            document.getElementById('panel-producer'),
            document.getElementById('follow-producer'),
            producerFiles,
            document.getElementById('flt-producer').value
          );
        } else {
          esProducer = null;
          showEmpty(document.getElementById('panel-producer'));
        }
        if (consumerFiles.length) {
          esConsumer = openStream(
            document.getElementById('panel-consumer'),
            document.getElementById('follow-consumer'),
            consumerFiles,
            document.getElementById('flt-consumer').value
          );
        } else {
          esConsumer = null;
          showEmpty(document.getElementById('panel-consumer'));
        }
      }

      document.getElementById('reload').addEventListener('click', reload);
      window.addEventListener('load', reload);
    </script>
  </body>
</html>
`
