// Package osc is the UDP transport for OSC messages exchanged with ESP32
// devices.
//
// It deliberately knows nothing about devices: a Server binds one local
// port and hands every decoded message to a single Handler, and a Client
// sends address-patterned messages to one remote host. The OSC wire codec
// is provided by github.com/hypebeast/go-osc.
//
// # Delivery
//
// The Server reads datagrams on one goroutine and calls the Handler
// synchronously on that goroutine, in arrival order. Bundles are unpacked
// and their messages delivered in the order they appear.
//
// Close is synchronous with respect to delivery: once it returns, no Handler
// call is in progress and none will start. Do not call Close from inside the
// Handler.
//
// # Usage
//
//	srv, err := osc.Listen(8888, func(m osc.Message) {
//	    fmt.Println(m.Address, m.Args)
//	})
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//
//	c, err := osc.Dial("10.0.0.5", 9999)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	err = c.Send("/arduino/keepalive", 1)
package osc
