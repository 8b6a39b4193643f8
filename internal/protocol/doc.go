// Package protocol defines the newline-delimited JSON messages exchanged
// over the stratad Unix socket.
//
// Every message is an [Envelope] holding a [Command] and an optional
// payload. Clients send one request per connection and read one response:
//
//	data, _ := protocol.Encode(protocol.CmdBuild, &protocol.BuildRequest{...})
//	conn.Write(append(data, '\n'))
//
//	line, _ := bufio.NewReader(conn).ReadBytes('\n')
//	env, payload, _ := protocol.Decode(line)
//	if env.Command == protocol.CmdOK {
//		result, _ := protocol.DecodePayload[protocol.BuildResult](payload)
//		...
//	}
package protocol
