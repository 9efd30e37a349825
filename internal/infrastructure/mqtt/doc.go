// Package mqtt connects the bridge to an MQTT broker and lays out the Home
// Assistant topic tree.
//
// The client wraps paho.mqtt.golang with auto-reconnect, tracked
// subscriptions and a retained bridge status topic. The broker publishes
// "offline" there as the Last Will if the bridge dies; the client publishes
// "online" on every connect and "offline" on Close.
//
//	topics := mqtt.NewTopics(cfg.HomeAssistant)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishRetained(topics.State("heater_consumption"), []byte("1200"))
package mqtt
