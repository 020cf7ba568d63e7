// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import "expvar"

// engineMetrics record server and client activity counters.
type engineMetrics struct {
	msgRecv       expvar.Int
	msgSent       expvar.Int
	callIn        expvar.Int // number of inbound calls received
	callInErr     expvar.Int // number of inbound messages that could not be dispatched
	callOut       expvar.Int // number of outbound calls initiated
	notifyIn      expvar.Int
	notifyOut     expvar.Int
	rspUnmatched  expvar.Int // responses with no pending call
	callAbandoned expvar.Int // pending calls discarded at disconnect
	callPending   expvar.Int // outbound
	sessionActive expvar.Int

	emap *expvar.Map
}

var rootMetrics = newEngineMetrics()

func newEngineMetrics() *engineMetrics {
	m := &engineMetrics{emap: new(expvar.Map)}
	m.emap.Set("messages_received", &m.msgRecv)
	m.emap.Set("messages_sent", &m.msgSent)
	m.emap.Set("calls_in", &m.callIn)
	m.emap.Set("calls_in_failed", &m.callInErr)
	m.emap.Set("calls_out", &m.callOut)
	m.emap.Set("notifies_in", &m.notifyIn)
	m.emap.Set("notifies_out", &m.notifyOut)
	m.emap.Set("responses_unmatched", &m.rspUnmatched)
	m.emap.Set("calls_abandoned", &m.callAbandoned)
	m.emap.Set("calls_pending", &m.callPending)
	m.emap.Set("sessions_active", &m.sessionActive)
	return m
}
