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

package photo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		target  Status
		want    Decision
	}{
		{name: "uploaded to queued", current: StatusUploaded, target: StatusQueued, want: DecisionApply},
		{name: "uploaded to failed", current: StatusUploaded, target: StatusFailed, want: DecisionApply},
		{name: "uploaded to processing skips queued", current: StatusUploaded, target: StatusProcessing, want: DecisionDenied},
		{name: "uploaded to completed skips everything", current: StatusUploaded, target: StatusCompleted, want: DecisionDenied},
		{name: "queued to processing", current: StatusQueued, target: StatusProcessing, want: DecisionApply},
		{name: "queued to failed", current: StatusQueued, target: StatusFailed, want: DecisionApply},
		{name: "queued to completed", current: StatusQueued, target: StatusCompleted, want: DecisionDenied},
		{name: "processing to completed", current: StatusProcessing, target: StatusCompleted, want: DecisionApply},
		{name: "processing to failed", current: StatusProcessing, target: StatusFailed, want: DecisionApply},
		{name: "processing back to queued", current: StatusProcessing, target: StatusQueued, want: DecisionDenied},
		{name: "completed absorbs redelivery", current: StatusCompleted, target: StatusProcessing, want: DecisionNoop},
		{name: "completed absorbs completed", current: StatusCompleted, target: StatusCompleted, want: DecisionNoop},
		{name: "failed absorbs redelivery", current: StatusFailed, target: StatusProcessing, want: DecisionNoop},
		{name: "self transition denied", current: StatusQueued, target: StatusQueued, want: DecisionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decide(tt.current, tt.target))
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("PROCESSING")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, s)

	_, err = ParseStatus("processing")
	require.Error(t, err)

	_, err = ParseStatus("")
	require.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.False(t, StatusUploaded.IsTerminal())
	require.False(t, StatusQueued.IsTerminal())
	require.False(t, StatusProcessing.IsTerminal())
}
