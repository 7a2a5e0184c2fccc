package viewer

import "html/template"

var pageTmpl = template.Must(template.New("viewer").Parse(`
{{define "fragment"}}<nav id="tab-links" role="tablist">
{{- range .Tabs}}
<a role="tab" href="?tab={{.Tab}}" data-tab="{{.Tab}}" class="tab tab-{{.Tab}}{{if .Active}} active{{end}}" aria-selected="{{.Active}}">{{.Tab.Title}} <span class="count">{{.Count}}</span></a>
{{- end}}
</nav>
<div id="tab-content" class="console-content">{{.Content}}</div>{{end}}

{{define "page"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>pikka console</title>
<style>
body { margin: 0; font: 13px/1.5 ui-monospace, Menlo, Consolas, monospace; background: #0f172a; color: #e2e8f0; }
#tab-links { display: flex; gap: 4px; padding: 8px; border-bottom: 1px solid #334155; }
.tab { padding: 2px 10px; border-radius: 4px; color: #94a3b8; text-decoration: none; }
.tab.active { color: #f8fafc; }
.tab-all.active { background: #334155; }
.tab-log.active { background: #2563eb; }
.tab-info.active { background: #16a34a; }
.tab-warn.active { background: #ca8a04; }
.tab-error.active { background: #dc2626; }
.count { opacity: .7; }
.console-content { max-height: calc(100vh - 48px); overflow-y: auto; }
.pikka-entries { list-style: none; margin: 0; padding: 0; }
.pikka-entry { padding: 2px 8px; border-bottom: 1px solid #1e293b; white-space: pre-wrap; }
.pikka-entry time, .pikka-source { color: #64748b; }
.pikka-level { text-transform: uppercase; font-weight: bold; }
.pikka-log .pikka-level { color: #93c5fd; }
.pikka-info .pikka-level { color: #86efac; }
.pikka-warn .pikka-level { color: #fde047; }
.pikka-error .pikka-level, .pikka-name { color: #f87171; }
.pikka-stack, .pikka-cause { margin: 2px 0 0 2em; color: #94a3b8; }
.pikka-empty { padding: 8px; color: #64748b; }
#pikka-clear { position: fixed; top: 8px; right: 8px; background: #334155; color: #e2e8f0; border: 0; border-radius: 4px; padding: 2px 10px; cursor: pointer; }
</style>
</head>
<body>
{{if .CanClear}}<button id="pikka-clear" type="button">Clear</button>{{end}}
<div id="{{.MountID}}">{{template "fragment" .}}</div>
<script>
(function () {
  var mount = document.getElementById({{.MountID}});
  var tab = new URLSearchParams(location.search).get("tab") || "";
  var busy = false, again = false;
  function refresh() {
    if (busy) { again = true; return; }
    busy = true;
    fetch("/viewer/content" + (tab ? "?tab=" + encodeURIComponent(tab) : ""))
      .then(function (r) { return r.text(); })
      .then(function (html) { mount.innerHTML = html; })
      .finally(function () {
        busy = false;
        if (again) { again = false; refresh(); }
      });
  }
  var clear = document.getElementById("pikka-clear");
  if (clear) {
    clear.addEventListener("click", function () { fetch("/viewer/clear", { method: "POST" }); });
  }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/viewer/live");
    ws.onmessage = refresh;
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();
</script>
</body>
</html>
{{end}}`))
