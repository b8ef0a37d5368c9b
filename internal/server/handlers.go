package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// WebSocketHandler upgrades GET requests to WebSocket and hands the new
// client to the hub, which starts its pumps.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)
	if !h.add(client) {
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat relay is running!")
}

// HistoryHandler returns the archived conversation between the two path users.
func (h *Hub) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	key := relay.NewChatKey(chi.URLParam(r, "userId"), chi.URLParam(r, "friendId"))

	messages, err := h.relay.Archive().Query(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("chat", key.String()).Msg("history query failed")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// FriendsHandler lists the friends of the path user with their presence.
func (h *Hub) FriendsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")
	directory := h.relay.Directory()

	exists, err := directory.UserExists(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("user lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "directory unavailable"})
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, errorView{Error: "unknown user"})
		return
	}

	friendIDs, err := directory.FriendIDs(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("friend lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "directory unavailable"})
		return
	}

	lastSeen, tracksLastSeen := directory.(store.LastSeenReader)
	friends := lo.FilterMap(friendIDs, func(id string, _ int) (FriendView, bool) {
		user, err := directory.GetUser(ctx, id)
		if errors.Is(err, relay.ErrUnknownUser) {
			return FriendView{}, false
		}
		if err != nil {
			log.Warn().Err(err).Str("user", id).Msg("friend record unavailable")
			user = relay.User{ID: id}
		}

		view := FriendView{
			ID:          user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			Online:      h.relay.Registry.IsOnline(id),
		}
		if tracksLastSeen {
			if seen, err := lastSeen.LastSeen(ctx, id); err == nil && !seen.IsZero() {
				view.LastSeen = lo.ToPtr(seen.UTC().Truncate(time.Second))
			}
		}
		return view, true
	})
	writeJSON(w, http.StatusOK, friends)
}

// UserHandler returns the path user's public record.
func (h *Hub) UserHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	user, err := h.relay.Directory().GetUser(r.Context(), userID)
	if errors.Is(err, relay.ErrUnknownUser) {
		writeJSON(w, http.StatusNotFound, errorView{Error: "unknown user"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("user lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "directory unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, h.userView(user))
}

// SearchUsersHandler matches q against user ids, usernames and display
// names, leaving out the searching user given as userId.
func (h *Hub) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	searcher, ok := h.relay.Directory().(store.UserSearcher)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorView{Error: "search not supported"})
		return
	}

	query, userID := r.URL.Query().Get("q"), r.URL.Query().Get("userId")
	users, err := searcher.SearchUsers(r.Context(), query, userID)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("user search failed")
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "directory unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(users, func(u relay.User, _ int) UserView {
		return h.userView(u)
	}))
}

func (h *Hub) userView(u relay.User) UserView {
	return UserView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Online:      h.relay.Registry.IsOnline(u.ID),
	}
}

// StatsHandler reports live connection and online user counts.
func (h *Hub) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatsView{
		Connections: h.Len(),
		Online:      h.relay.Registry.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Warn().Err(err).Msg("error writing JSON response")
	}
}

// TestPageHandler serves an HTML page for trying the relay by hand:
// identify as a user, message a friend, and watch presence and typing events.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		log.Warn().Err(err).Msg("error writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 160px; padding: 5px; margin-right: 10px; }
        #text { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="Your user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="friendId" placeholder="Friend user id" disabled>
        <input type="text" id="text" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        let typingTimer = null;
        const eventsDiv = document.getElementById('events');
        const userInput = document.getElementById('userId');
        const friendInput = document.getElementById('friendId');
        const textInput = document.getElementById('text');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected as ' + userInput.value : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            friendInput.disabled = !connected;
            textInput.disabled = !connected;
            sendButton.disabled = !connected;
            userInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function handle(msg) {
            const d = msg.data;
            switch (msg.event) {
                case 'friend_online': addLine(d + ' is online', 'green'); break;
                case 'friend_offline': addLine(d + ' went offline', 'gray'); break;
                case 'receive_message': addLine(d.senderId + ': ' + d.text, 'green'); break;
                case 'message_sent': addLine('You -> ' + d.receiverId + ': ' + d.text, 'blue'); break;
                case 'message_failed': addLine('Not sent to ' + d.receiverId + ': ' + d.reason, 'red'); break;
                case 'user_typing': addLine(d.userId + (d.typing ? ' is typing...' : ' stopped typing'), 'gray'); break;
                case 'session_replaced': addLine('Signed in elsewhere', 'red'); break;
                case 'error': addLine('Error (' + d.event + '): ' + d.reason, 'red'); break;
                default: addLine(JSON.stringify(msg));
            }
        }

        function loadHistory() {
            const me = userInput.value.trim();
            const friend = friendInput.value.trim();
            if (!me || !friend) return;
            fetch('/api/messages/' + encodeURIComponent(me) + '/' + encodeURIComponent(friend))
                .then(r => r.json())
                .then(list => list.forEach(m => addLine('[history] ' + m.senderId + ': ' + m.text)));
        }

        function connect() {
            const me = userInput.value.trim();
            if (!me) { addLine('Enter a user id first', 'red'); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                emit('user_online', me);
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(function(line) {
                    if (line) handle(JSON.parse(line));
                });
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = textInput.value.trim();
            const friend = friendInput.value.trim();
            if (!text || !friend) return;
            emit('send_message', { senderId: userInput.value.trim(), receiverId: friend, text: text });
            emit('typing', { senderId: userInput.value.trim(), receiverId: friend, typing: false });
            textInput.value = '';
        }

        textInput.addEventListener('input', function() {
            const friend = friendInput.value.trim();
            if (!friend) return;
            emit('typing', { senderId: userInput.value.trim(), receiverId: friend, typing: true });
            clearTimeout(typingTimer);
            typingTimer = setTimeout(function() {
                emit('typing', { senderId: userInput.value.trim(), receiverId: friend, typing: false });
            }, 1500);
        });
        textInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
        friendInput.addEventListener('change', loadHistory);
    </script>
</body>
</html>`
