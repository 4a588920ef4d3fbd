// Package roster polls game servers over UDP for who is connected and keeps
// the session table synchronized with what the servers report.
package roster

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

const (
	packetHeader  = "\xff\xff\xff\xff"
	challengeReq  = packetHeader + "challenge rcon\n"
	queryTimeout  = 2 * time.Second
	rconTimeout   = 3 * time.Second
	maxResponse   = 65535
	statusCommand = "status"
)

// Client queries HLDS-style game servers via UDP RCON.
type Client struct{}

// NewClient creates a new UDP client.
func NewClient() *Client {
	return &Client{}
}

// QueryRoster runs "status" on the server and parses the connected players.
func (c *Client) QueryRoster(address, rconPassword string) (*domain.RosterSnapshot, error) {
	response, err := c.RconCommand(address, rconPassword, statusCommand)
	if err != nil {
		return nil, err
	}
	return parseStatusResponse(response)
}

// Say sends a private message to a slot via RCON.
func (c *Client) Say(address, rconPassword string, slot int, message string) error {
	_, err := c.RconCommand(address, rconPassword, fmt.Sprintf("say_slot %d %s", slot, message))
	return err
}

// RconCommand sends an RCON command and returns the response. The protocol
// needs a challenge round trip first.
func (c *Client) RconCommand(address, password, command string) (string, error) {
	conn, err := net.DialTimeout("udp", address, rconTimeout)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer conn.Close()

	challenge, err := c.requestChallenge(conn)
	if err != nil {
		return "", err
	}

	request := fmt.Sprintf("%srcon %s \"%s\" %s", packetHeader, challenge, password, command)
	conn.SetWriteDeadline(time.Now().Add(rconTimeout))
	if _, err := conn.Write([]byte(request)); err != nil {
		return "", fmt.Errorf("sending rcon command: %w", err)
	}

	// Long output arrives across multiple packets; read until quiet.
	var response strings.Builder
	buf := make([]byte, maxResponse)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() && response.Len() > 0 {
				break
			}
			if response.Len() > 0 {
				break
			}
			return "", fmt.Errorf("reading response: %w", err)
		}
		data := string(buf[:n])
		data = strings.TrimPrefix(data, packetHeader+"l")
		data = strings.TrimPrefix(data, packetHeader+"print\n")
		response.WriteString(data)
	}

	out := response.String()
	if strings.Contains(out, "Bad rcon_password") {
		return "", fmt.Errorf("rcon authentication failed for %s", address)
	}
	return out, nil
}

func (c *Client) requestChallenge(conn net.Conn) (string, error) {
	conn.SetDeadline(time.Now().Add(queryTimeout))
	if _, err := conn.Write([]byte(challengeReq)); err != nil {
		return "", fmt.Errorf("sending challenge request: %w", err)
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("reading challenge: %w", err)
	}

	// Response format: \xff\xff\xff\xffchallenge rcon <number>\n
	fields := strings.Fields(strings.TrimPrefix(string(buf[:n]), packetHeader))
	if len(fields) < 3 || fields[0] != "challenge" {
		return "", fmt.Errorf("unexpected challenge response %q", string(buf[:n]))
	}
	return fields[2], nil
}

// parseStatusResponse extracts the roster from "status" command output.
//
// Player lines look like:
//
//	#  2 "PlayerName" STEAM_0:1:12345 12 04:15 66 0 active
//	#  5 "SomeBot" BOT 3 01:02 0 0 active
//
// Header lines carry the map and player counts.
func parseStatusResponse(response string) (*domain.RosterSnapshot, error) {
	snapshot := &domain.RosterSnapshot{PolledAt: time.Now().UTC()}
	sawPlayers := false

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "map"):
			// "map     : de_dust2 at: 0 x, 0 y, 0 z"
			if _, value, ok := splitStatusVar(line); ok {
				snapshot.Map = strings.Fields(value)[0]
			}
		case strings.HasPrefix(line, "players"):
			// "players : 12 (32 max)"
			if _, value, ok := splitStatusVar(line); ok {
				fields := strings.Fields(value)
				if len(fields) > 0 {
					snapshot.Players, _ = strconv.Atoi(fields[0])
				}
				if len(fields) >= 2 {
					max := strings.Trim(fields[1], "(")
					snapshot.MaxPlayers, _ = strconv.Atoi(max)
				}
			}
			sawPlayers = true
		case strings.HasPrefix(line, "#"):
			entry, err := parsePlayerLine(line)
			if err != nil {
				continue
			}
			snapshot.PlayerList = append(snapshot.PlayerList, entry)
		}
	}

	if !sawPlayers && len(snapshot.PlayerList) == 0 {
		return nil, fmt.Errorf("unrecognized status response")
	}
	return snapshot, nil
}

func splitStatusVar(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx == -1 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// parsePlayerLine parses one "#" roster line from status output.
func parsePlayerLine(line string) (domain.RosterEntry, error) {
	var entry domain.RosterEntry

	quoteStart := strings.Index(line, "\"")
	quoteEnd := strings.LastIndex(line, "\"")
	if quoteStart == -1 || quoteEnd <= quoteStart {
		return entry, fmt.Errorf("no quoted name in %q", line)
	}
	entry.Name = line[quoteStart+1 : quoteEnd]

	// Before the name: "#" and the slot number.
	head := strings.Fields(strings.TrimPrefix(line[:quoteStart], "#"))
	if len(head) == 0 {
		return entry, fmt.Errorf("no slot number in %q", line)
	}
	slot, err := strconv.Atoi(head[0])
	if err != nil {
		return entry, fmt.Errorf("bad slot number in %q: %w", line, err)
	}
	entry.GameUserID = slot

	// After the name: uniqueid, frags, time, ping, loss, state.
	tail := strings.Fields(line[quoteEnd+1:])
	if len(tail) == 0 {
		return entry, fmt.Errorf("no unique id in %q", line)
	}
	entry.ExternalID = tail[0]
	entry.IsBot = strings.EqualFold(entry.ExternalID, "BOT")
	if len(tail) >= 2 {
		entry.Frags, _ = strconv.Atoi(tail[1])
	}
	if len(tail) >= 4 {
		entry.Ping, _ = strconv.Atoi(tail[3])
	}
	return entry, nil
}
