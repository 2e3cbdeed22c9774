package main

import (
	"net/http"
)

func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

// dashboardHTML polls /v1/metrics every two seconds.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>fastlimit</title>
<style>
  body { font-family: system-ui, sans-serif; background: #0f172a; color: #e2e8f0; margin: 0; padding: 24px; }
  h1 { margin: 0 0 4px; font-size: 1.8em; }
  .sub { color: #94a3b8; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; margin-bottom: 24px; }
  .card { background: #1e293b; border-radius: 10px; padding: 18px; }
  .label { color: #94a3b8; font-size: 0.8em; text-transform: uppercase; letter-spacing: 1px; }
  .value { font-size: 2em; font-weight: 700; margin-top: 6px; }
  .ok { color: #34d399; } .deny { color: #f87171; } .info { color: #60a5fa; } .muted { color: #fbbf24; }
  table { width: 100%; border-collapse: collapse; background: #1e293b; border-radius: 10px; overflow: hidden; }
  th, td { padding: 10px 14px; text-align: left; border-bottom: 1px solid #334155; }
  th { color: #94a3b8; font-size: 0.8em; text-transform: uppercase; }
</style>
</head>
<body>
<h1>fastlimit</h1>
<div class="sub">Up <span id="uptime">0</span>s, refreshed every 2s</div>

<div class="grid">
  <div class="card"><div class="label">Checks</div><div class="value info" id="total">0</div></div>
  <div class="card"><div class="label">Admitted</div><div class="value ok" id="allowed">0</div></div>
  <div class="card"><div class="label">Denied</div><div class="value deny" id="denied">0</div></div>
  <div class="card"><div class="label">Consume / Peek</div><div class="value" id="ops">0 / 0</div></div>
  <div class="card"><div class="label">Bypassed</div><div class="value muted" id="bypassed">0</div></div>
  <div class="card"><div class="label">Namespaces / Live buckets</div><div class="value" id="namespaces">0 / 0</div></div>
</div>

<table>
  <thead><tr><th>Namespace</th><th>Checks</th><th>Admitted</th><th>Denied</th><th>Last check</th></tr></thead>
  <tbody id="top"></tbody>
</table>

<script>
function set(id, v) { document.getElementById(id).textContent = v; }

function cell(row, text) {
  const td = document.createElement('td');
  td.textContent = text;
  row.appendChild(td);
}

async function refresh() {
  let data;
  try {
    data = await (await fetch('/v1/metrics')).json();
  } catch (e) {
    console.error('metrics fetch failed', e);
    return;
  }

  set('total', data.total_checks.toLocaleString());
  set('allowed', data.allowed_checks.toLocaleString());
  set('denied', data.denied_checks.toLocaleString());
  set('ops', data.consume_checks + ' / ' + data.peek_checks);
  set('bypassed', data.bypassed.toLocaleString());
  const live = data.active_buckets < 0 ? 'n/a' : data.active_buckets;
  set('namespaces', data.unique_namespaces + ' / ' + live);
  set('uptime', data.uptime_seconds);

  const tbody = document.getElementById('top');
  tbody.replaceChildren();
  for (const ns of data.top_namespaces || []) {
    const row = document.createElement('tr');
    cell(row, ns.namespace);
    cell(row, ns.total_checks);
    cell(row, ns.allowed_checks);
    cell(row, ns.denied_checks);
    cell(row, new Date(ns.last_check_at).toLocaleTimeString());
    tbody.appendChild(row);
  }
}

refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>`
