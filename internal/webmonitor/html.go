package webmonitor

import "html/template"

type pageData struct {
	CameraName       string
	DisplayThreshold float64
	STUNServers      []string
	TargetFPS        int
	ModelState       string
	ModelError       string
}

func (s *Server) pageData() pageData {
	status := s.monitor.Snapshot()
	return pageData{
		CameraName:       s.cfg.CameraName,
		DisplayThreshold: status.Settings.DisplayThreshold,
		STUNServers:      s.cfg.STUNServers,
		TargetFPS:        s.cfg.TargetFPS,
		ModelState:       status.Model.State,
		ModelError:       status.Model.Error,
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>SDDS Live Feed</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #f1f5f9; font-family: Inter, sans-serif; color: #0f172a; }
        .app { max-width: 1200px; margin: 0 auto; padding: 1rem; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 1rem 0; }
        .title { font-weight: 800; font-size: 1.5rem; }
        .subtitle { color: #64748b; font-size: 0.9rem; }
        .badge { padding: 0.5rem 1rem; border-radius: 9999px; font-weight: 700; font-size: 0.85rem; }
        .badge-active { background: #dcfce7; color: #166534; }
        .badge-disabled { background: #fee2e2; color: #991b1b; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 1rem; }
        .panel { background: white; padding: 1.5rem; border-radius: 12px; border: 1px solid #e2e8f0; }
        .notice { background: #fee2e2; color: #991b1b; padding: 0.75rem 1rem; border-radius: 8px; margin-bottom: 1rem; }
        .feed img, .feed video { width: 100%; background: #000; border-radius: 8px; display: block; }
        .controls { display: flex; gap: 0.5rem; margin: 0.75rem 0; }
        button { background: #0f172a; color: white; border: none; padding: 0.5rem 1rem; border-radius: 6px; font-weight: 700; cursor: pointer; }
        button:disabled { opacity: 0.5; cursor: default; }
        .det { display: flex; justify-content: space-between; padding: 0.5rem 0; border-bottom: 1px solid #f1f5f9; font-size: 0.9rem; }
        .muted { color: #64748b; font-size: 0.8rem; }
    </style>
</head>
<body>
<div class="app">
    <div class="header">
        <div>
            <div class="title">MBSJ COMMAND CENTER</div>
            <div class="subtitle">Stray Dog Detection System (SDDS) v2.0</div>
        </div>
        <span class="badge {{if eq .ModelState "active"}}badge-active{{else}}badge-disabled{{end}}" id="model-badge">
            ● DETECTION {{if eq .ModelState "active"}}ONLINE{{else}}OFFLINE{{end}}
        </span>
    </div>

    {{if .ModelError}}<div class="notice" id="model-notice">{{.ModelError}}</div>{{end}}

    <div class="grid">
        <div class="panel">
            <h3>🔴 Live Feed: {{.CameraName}}</h3>
            <p>Click 'START' to use your camera. (Allow permissions)</p>
            <div class="controls">
                <button type="button" id="btn-start">START</button>
                <button type="button" id="btn-stop" disabled>STOP</button>
                <span class="muted" id="session-status">idle</span>
            </div>
            <div class="feed">
                <img id="annotated" alt="Annotated live feed" style="display:none;">
                <video id="local" autoplay playsinline muted style="display:none;"></video>
                <img id="stream" src="/stream" alt="Server camera feed">
            </div>
        </div>

        <div>
            <div class="panel" style="margin-bottom:1rem;">
                <h3>Settings</h3>
                <label for="threshold">Confidence Threshold: <strong id="threshold-value">{{printf "%.2f" .DisplayThreshold}}</strong></label>
                <input type="range" id="threshold" min="0" max="1" step="0.01" value="{{.DisplayThreshold}}" style="width:100%;">
            </div>
            <div class="panel">
                <h3>Detections</h3>
                <div id="detections"><div class="muted">Waiting for detections...</div></div>
            </div>
        </div>
    </div>
</div>

<script>
const stunServers = {{.STUNServers}};
const targetFPS = {{.TargetFPS}};

const slider = document.getElementById('threshold');
const sliderValue = document.getElementById('threshold-value');
slider.addEventListener('change', async () => {
    const value = parseFloat(slider.value);
    sliderValue.textContent = value.toFixed(2);
    await fetch('/api/settings', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify({display_threshold: value}),
    });
});
slider.addEventListener('input', () => {
    sliderValue.textContent = parseFloat(slider.value).toFixed(2);
});

const detectionsEl = document.getElementById('detections');
const events = new EventSource('/api/detections/stream');
events.onmessage = (e) => {
    const event = JSON.parse(e.data);
    const rows = event.detections.map(d =>
        '<div class="det"><span>' + d.class_name + '</span><span>' +
        d.confidence.toFixed(2) + '</span></div>');
    rows.push('<div class="muted">' + event.camera + ' frame ' + event.frame_number +
        ' (' + event.inference_ms.toFixed(1) + ' ms)</div>');
    detectionsEl.innerHTML = rows.join('');
};

const btnStart = document.getElementById('btn-start');
const btnStop = document.getElementById('btn-stop');
const statusEl = document.getElementById('session-status');
const localVideo = document.getElementById('local');
const annotated = document.getElementById('annotated');
const serverStream = document.getElementById('stream');

let pc = null;
let media = null;
let timer = null;
let inFlight = false;
let sentAt = 0;
const replyTimeoutMs = 2000;
let lastURL = null;

function waitForIce(conn) {
    if (conn.iceGatheringState === 'complete') return Promise.resolve();
    return new Promise(resolve => {
        conn.addEventListener('icegatheringstatechange', () => {
            if (conn.iceGatheringState === 'complete') resolve();
        });
    });
}

async function start() {
    btnStart.disabled = true;
    statusEl.textContent = 'requesting camera...';
    try {
        media = await navigator.mediaDevices.getUserMedia({video: true, audio: false});
    } catch (err) {
        statusEl.textContent = 'camera unavailable: ' + err.message;
        btnStart.disabled = false;
        return;
    }
    localVideo.srcObject = media;

    pc = new RTCPeerConnection({iceServers: [{urls: stunServers}]});
    const dc = pc.createDataChannel('frames', {ordered: true});
    dc.binaryType = 'arraybuffer';

    const canvas = document.createElement('canvas');
    const ctx = canvas.getContext('2d');

    dc.onopen = () => {
        statusEl.textContent = 'live';
        serverStream.style.display = 'none';
        annotated.style.display = 'block';
        timer = setInterval(() => {
            // A reply that never came must not stall the feed.
            if (inFlight && performance.now() - sentAt < replyTimeoutMs) return;
            if (dc.readyState !== 'open' || !localVideo.videoWidth) return;
            canvas.width = localVideo.videoWidth;
            canvas.height = localVideo.videoHeight;
            ctx.drawImage(localVideo, 0, 0);
            inFlight = true;
            sentAt = performance.now();
            canvas.toBlob(async blob => {
                if (!blob || dc.readyState !== 'open') { inFlight = false; return; }
                try {
                    dc.send(await blob.arrayBuffer());
                } catch (err) {
                    inFlight = false;
                }
            }, 'image/jpeg', 0.7);
        }, 1000 / targetFPS);
    };
    dc.onmessage = (e) => {
        inFlight = false;
        const url = URL.createObjectURL(new Blob([e.data], {type: 'image/jpeg'}));
        annotated.src = url;
        if (lastURL) URL.revokeObjectURL(lastURL);
        lastURL = url;
    };
    dc.onclose = () => stop();

    await pc.setLocalDescription(await pc.createOffer());
    await waitForIce(pc);

    const resp = await fetch('/api/webrtc/offer', {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify({type: pc.localDescription.type, sdp: pc.localDescription.sdp}),
    });
    if (!resp.ok) {
        const body = await resp.json().catch(() => ({}));
        statusEl.textContent = 'session refused: ' + (body.error || resp.status);
        stop();
        return;
    }
    await pc.setRemoteDescription(await resp.json());
    statusEl.textContent = 'connecting...';
    btnStop.disabled = false;
}

function stop() {
    if (timer) { clearInterval(timer); timer = null; }
    if (pc) { pc.close(); pc = null; }
    if (media) { media.getTracks().forEach(t => t.stop()); media = null; }
    inFlight = false;
    annotated.style.display = 'none';
    serverStream.style.display = 'block';
    btnStart.disabled = false;
    btnStop.disabled = true;
    if (!statusEl.textContent.startsWith('session refused')) statusEl.textContent = 'idle';
}

btnStart.addEventListener('click', start);
btnStop.addEventListener('click', stop);
</script>
</body>
</html>
`))
