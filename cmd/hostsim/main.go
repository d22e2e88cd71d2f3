// Command hostsim is a minimal interactive host for exercising the
// firmware's wire protocol over a real or virtual serial link, grounded on
// the teacher's gopper-host command-line shape.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/Knight-Ops/klipper-cl-stepper-mcu/protocol"
)

var (
	device = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud   = flag.Int("baud", 250000, "Baud rate")
)

func main() {
	flag.Parse()

	fmt.Println("hostsim - closed-loop stepper MCU test harness")
	fmt.Printf("Connecting to %s at %d baud...\n", *device, *baud)

	port, err := serial.OpenPort(&serial.Config{
		Name:        *device,
		Baud:        *baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open serial port: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	transport := protocol.NewHostTransport(port)
	defer transport.Close()

	commands, responses, err := retrieveDictionary(transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dictionary loaded: %d commands, %d responses\n", len(commands), len(responses))

	transport.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		fmt.Printf("<- %s %v\n", responses[cmdID], *data)
		return nil
	})

	runREPL(transport, commands)
}

// retrieveDictionary pulls the zlib-or-raw dictionary in identify chunks and
// parses out the command/response name-to-id tables this harness needs to
// encode VLQ arguments by name. Full enumeration/constant parsing is left
// to a richer host implementation; this is a test harness, not a Klipper
// host replacement.
func retrieveDictionary(t *protocol.HostTransport) (map[string]uint16, map[uint16]string, error) {
	var raw []byte
	offset := uint32(0)
	const chunkSize = 64

	for i := 0; i < 2000; i++ {
		if err := t.SendCommand(1, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, offset)
			protocol.EncodeVLQUint(output, chunkSize)
		}); err != nil {
			return nil, nil, fmt.Errorf("identify send: %w", err)
		}

		resp, err := t.ReceiveResponse(2 * time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("identify response: %w", err)
		}

		payload := resp.Payload
		if _, err := protocol.DecodeVLQUint(&payload); err != nil {
			return nil, nil, err
		}
		respOffset, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, nil, err
		}
		if respOffset != offset {
			return nil, nil, fmt.Errorf("offset mismatch: want %d got %d", offset, respOffset)
		}
		chunk, err := protocol.DecodeVLQBytes(&payload)
		if err != nil {
			return nil, nil, err
		}
		if len(chunk) == 0 {
			break
		}
		raw = append(raw, chunk...)
		offset += uint32(len(chunk))
		if len(chunk) < chunkSize {
			break
		}
	}

	jsonBody := maybeInflate(raw)
	return parseDictionaryIDs(jsonBody)
}

// runREPL accepts lines of "command arg1 arg2 ..." and sends each argument
// that parses as a base-10 integer as a VLQ int, in the order typed.
// Arguments that do not parse are skipped without a warning, so %*s byte
// string arguments (such as tmcuart_send's write) cannot be sent from here.
func runREPL(t *protocol.HostTransport, commands map[string]uint16) {
	fmt.Println("Type a command name followed by its arguments (space separated), or 'quit'.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		name := fields[0]
		if name == "quit" || name == "exit" {
			return
		}

		cmdID, ok := commands[name]
		if !ok {
			fmt.Printf("unknown command: %s\n", name)
			continue
		}

		args := fields[1:]
		err := t.SendCommand(cmdID, func(output protocol.OutputBuffer) {
			for _, a := range args {
				v, perr := strconv.ParseInt(a, 10, 64)
				if perr != nil {
					continue
				}
				protocol.EncodeVLQInt(output, int32(v))
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}
		fmt.Println("sent")
	}
}
