// Package mqtt publishes Wagerline access events to an MQTT broker.
//
// The broker is an optional outbound bus: admission decisions, session
// revocations and device request reviews are published so that other
// platform services (risk, notifications, the admin console) can react
// without polling. The access core keeps working when the broker is down;
// publishes then fail with ErrNotConnected and callers log and move on.
//
// # Topics
//
//	wagerline/auth/admission/{account_id}        admission decisions
//	wagerline/auth/session/{account_id}          logouts and revocations
//	wagerline/requests/{kind}/{event}            request created / reviewed
//	wagerline/system/status                      retained online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.Admission(acc.ID), event)
//
// The API server also subscribes to wagerline/requests/# so admin
// WebSocket clients see reviews made by any process sharing the broker.
package mqtt
