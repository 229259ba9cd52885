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

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/rapidphotoflow/photoflow/lib/metadata"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// eventsResponse is one page of the event log.
type eventsResponse struct {
	Events   []*photo.Event `json:"events"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// GET /api/events?photoId=&type=&page=&pageSize=
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	q := r.URL.Query()
	filter := metadata.EventFilter{
		PhotoID:   q.Get("photoId"),
		EventType: q.Get("type"),
	}
	filter.Page, filter.PageSize = pageParams(q.Get("page"), q.Get("pageSize"))

	events, total, err := h.cfg.Events.Query(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if events == nil {
		events = []*photo.Event{}
	}
	return eventsResponse{Events: events, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}
