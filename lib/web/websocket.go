/*
 * RapidPhotoFlow
 * Copyright (C) 2025  RapidPhotoFlow contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is same-origin agnostic; access control is the deployment's
	// reverse proxy concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeFrame is a client control message joining or leaving a
// per-photo topic.
type subscribeFrame struct {
	Action  string `json:"action"`
	PhotoID string `json:"photoId"`
}

// GET /api/ws/status
//
// After the upgrade the client receives every broadcast transition. It may
// join per-photo topics with {"action":"subscribe","photoId":...} frames and
// leave them again with "unsubscribe".
func (h *Handler) statusSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.WarnContext(r.Context(), "Websocket upgrade failed.", "error", err)
		return
	}
	defer conn.Close()

	sub := h.cfg.Broker.Subscribe(defaults.BroadcastTopic)
	defer h.cfg.Broker.Unsubscribe(sub)

	// The writer owns the connection's write side: notifications and
	// keepalive pings never interleave.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(defaults.WebSocketPingInterval)
		defer ping.Stop()
		for {
			select {
			case n, ok := <-sub.C():
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(defaults.WebSocketWriteTimeout))
				if err := conn.WriteJSON(n); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(defaults.WebSocketWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var frame subscribeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame.PhotoID == "" {
			continue
		}
		switch frame.Action {
		case "subscribe":
			h.cfg.Broker.Join(sub, notify.PhotoTopic(frame.PhotoID))
		case "unsubscribe":
			h.cfg.Broker.Leave(sub, notify.PhotoTopic(frame.PhotoID))
		}
	}

	// Unsubscribing closes the channel which stops the writer.
	h.cfg.Broker.Unsubscribe(sub)
	<-writerDone
}
