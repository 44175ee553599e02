package storage

import (
	"testing"
	"time"

	"github.com/cyp0633/calsched/server/invite"
	"github.com/cyp0633/calsched/server/recurrence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestEvent(uid string, start time.Time, rule string) invite.Invite {
	return invite.Invite{
		UID:    uid,
		Kind:   invite.Series(),
		Method: invite.MethodPublish,
		Start:  start,
		End:    start.Add(time.Hour),
		Rule:   rule,
	}
}

func createTestTodo(uid string) invite.Invite {
	return invite.Invite{UID: uid, Kind: invite.Series(), Type: invite.TypeTodo, Method: invite.MethodPublish}
}

func TestFilter_Match(t *testing.T) {
	engine := recurrence.NewEngine()
	jan := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	single := NewMockItem(300, FolderCalendar, createTestEvent("single", jan(5).Add(9*time.Hour), ""))
	weekly := NewMockItem(301, FolderCalendar, createTestEvent("weekly", jan(1).Add(9*time.Hour), "FREQ=WEEKLY"))
	todo := NewMockItem(302, FolderTasks, createTestTodo("todo"))

	tests := []struct {
		name   string
		filter *Filter
		item   *CalendarItem
		want   bool
	}{
		{"nil filter", nil, single, true},
		{"zero filter", &Filter{}, todo, true},
		{"folder match", &Filter{FolderID: FolderCalendar}, single, true},
		{"folder mismatch", &Filter{FolderID: FolderTasks}, single, false},
		{"type match", &Filter{Types: []invite.ItemType{invite.TypeTodo}}, todo, true},
		{"type mismatch", &Filter{Types: []invite.ItemType{invite.TypeTodo}}, weekly, false},
		{"single in range", &Filter{TimeRange: &TimeRange{Start: jan(5), End: jan(6)}}, single, true},
		{"single out of range", &Filter{TimeRange: &TimeRange{Start: jan(6), End: jan(7)}}, single, false},
		{"recurring occurrence in range", &Filter{TimeRange: &TimeRange{Start: jan(22), End: jan(23)}}, weekly, true},
		{"recurring no occurrence in range", &Filter{TimeRange: &TimeRange{Start: jan(23), End: jan(28)}}, weekly, false},
		{"task without start always matches", &Filter{TimeRange: &TimeRange{Start: jan(23), End: jan(28)}}, todo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Match(tt.item, engine)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
