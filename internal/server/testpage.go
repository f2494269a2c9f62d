package server

import "net/http"

// TestPageHandler serves an HTML page for driving the room protocol by hand:
// connect to a room, send state updates and pings, and watch the frames the
// relay sends back.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(testPageHTML))
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>boardsync WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; }
        input[type="text"] { width: 180px; padding: 5px; margin-right: 6px; }
        textarea { width: 480px; height: 60px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>boardsync WebSocket Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="roomId" placeholder="room id" value="lab1">
        <input type="text" id="username" placeholder="username" value="alice">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <textarea id="state">{"items":[{"id":1}],"connections":[]}</textarea><br>
        <button onclick="sendState()">Send state</button>
        <button onclick="send({type: 'activity', action: 'drawing'})">Send activity</button>
        <button onclick="send({type: 'ping'})">Ping</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function log(line) {
            const el = document.createElement('div');
            el.textContent = new Date().toLocaleTimeString() + ' ' + line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function setStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleConnection() {
            if (ws) { ws.close(); return; }
            const roomId = document.getElementById('roomId').value;
            const username = document.getElementById('username').value;
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + encodeURIComponent(roomId));
            ws.onopen = () => {
                setStatus(true);
                send({type: 'join', username: username, user_id: '', color: ''});
            };
            ws.onmessage = (event) => log('<- ' + event.data);
            ws.onclose = (event) => {
                log('closed ' + event.code + ' ' + event.reason);
                ws = null;
                setStatus(false);
            };
        }

        function send(msg) {
            if (!ws) { log('not connected'); return; }
            const data = JSON.stringify(msg);
            ws.send(data);
            log('-> ' + data);
        }

        function sendState() {
            try {
                send({type: 'state_update', state: JSON.parse(document.getElementById('state').value)});
            } catch (e) {
                log('invalid state JSON: ' + e.message);
            }
        }
    </script>
</body>
</html>`
