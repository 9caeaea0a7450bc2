package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeFiltersByTableAndOp(t *testing.T) {
	h := NewHub()

	var orders, inserts, debts []Event
	h.Subscribe("orders", OpAny, func(ev Event) { orders = append(orders, ev) })
	h.Subscribe("orders", OpInsert, func(ev Event) { inserts = append(inserts, ev) })
	h.Subscribe("debts", "", func(ev Event) { debts = append(debts, ev) })

	h.Publish(Event{Table: "orders", Op: OpInsert, RowID: "1"})
	h.Publish(Event{Table: "orders", Op: OpUpdate, RowID: "1"})
	h.Publish(Event{Table: "ORDERS", Op: "insert", RowID: "2"})
	h.Publish(Event{Table: "products", Op: OpUpdate})

	assert.Len(t, orders, 3)
	assert.Len(t, inserts, 2)
	assert.Empty(t, debts)
}

func TestWildcardEventReachesEverySubscriber(t *testing.T) {
	h := NewHub()
	hits := 0
	h.Subscribe("orders", OpInsert, func(Event) { hits++ })
	h.Subscribe("debts", OpUpdate, func(Event) { hits++ })

	h.Publish(Event{Table: AnyTable, Op: OpAny})
	assert.Equal(t, 2, hits)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	hits := 0
	unsubscribe := h.Subscribe("orders", OpAny, func(Event) { hits++ })
	other := h.Subscribe("orders", OpAny, func(Event) {})
	assert.Equal(t, 2, h.Len())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, h.Len())

	h.Publish(Event{Table: "orders", Op: OpInsert})
	assert.Zero(t, hits)

	other()
	assert.Zero(t, h.Len())
}

func TestDuplicateDeliveryIsJustAnotherSignal(t *testing.T) {
	h := NewHub()
	hits := 0
	h.Subscribe("orders", OpAny, func(Event) { hits++ })

	ev := Event{Table: "orders", Op: OpUpdate, RowID: "1"}
	h.Publish(ev)
	h.Publish(ev)
	assert.Equal(t, 2, hits)
}
