// Package iotmqtt is a cooperative MQTT 3.1.1 session core for IoT devices.
//
// A Session connects one device to its hub, tracks the acknowledgement of
// every publish, subscribe and unsubscribe it sends, keeps the connection
// alive and reconnects with exponential backoff. Nothing runs in the
// background: the caller drives the session by calling Yield with a time
// budget, and every outcome is reported as an Event on the caller's
// goroutine.
//
// # Features
//
//   - CONNECT, PUBLISH, PUBACK, SUBSCRIBE, SUBACK, UNSUBSCRIBE, UNSUBACK,
//     PINGREQ, PINGRESP and DISCONNECT at QoS 0 and 1
//   - Packet ids that increase, wrap and skip ids still in flight
//   - Per-operation deadlines resolved as success, timeout or nack events
//   - Keep-alive pings and bounded reconnect with a pluggable backoff
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC and Unix sockets,
//     optionally through an HTTP CONNECT or SOCKS5 proxy
//   - Device credentials signed with HMAC-SHA256 or a client certificate
//   - Prometheus metrics
//
// # Usage
//
//	cfg, err := iotmqtt.LoadConfig("device.yaml")
//	if err != nil {
//	    return err
//	}
//
//	s, err := iotmqtt.Dial(ctx, cfg,
//	    iotmqtt.WithLogger(iotmqtt.NewConsoleLogger(nil, iotmqtt.LogLevelInfo)),
//	    iotmqtt.OnEvent(func(s *iotmqtt.Session, ev iotmqtt.Event) {
//	        log.Println(ev)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.Destroy()
//
//	topic := iotmqtt.DeviceTopic(cfg.ProductID, cfg.DeviceName, "data")
//	s.Subscribe(topic, iotmqtt.QoS1, func(s *iotmqtt.Session, msg *iotmqtt.Message) {
//	    log.Printf("%s: %s", msg.Topic, msg.Payload)
//	})
//
//	for {
//	    status, err := s.Yield(200 * time.Millisecond)
//	    if status == iotmqtt.YieldFatal {
//	        return err
//	    }
//	}
//
// # Errors
//
// Invalid arguments and configuration are returned synchronously from the
// call that caused them. Transport, protocol and timeout failures never
// escape Yield; they arrive as events carrying a *TransportError,
// *ProtocolError, *TimeoutError or *ConnectError. ErrReconnectExhausted is
// fatal.
package iotmqtt
