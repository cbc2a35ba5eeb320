// Package mqtt connects clashxw to an MQTT broker so other tools on the
// network can follow and drive the supervised engine.
//
// Topics (see Topics):
//
//	clashxw/system/status    supervisor online/offline (retained, LWT)
//	clashxw/engine/status    engine state snapshot (retained)
//	clashxw/engine/event/+   one message per lifecycle event
//	clashxw/engine/command   inbound start/stop/restart/use commands
//
// The client wraps paho.mqtt.golang with auto-reconnect, a Last Will so a
// crashed supervisor shows up as offline, and a single engine command
// subscription that is restored after every reconnect. Retained commands
// are ignored. The command handler runs on paho goroutines and is
// protected against panics.
//
// Example:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.HandleCommands(ctrl.HandleCommand)
package mqtt
