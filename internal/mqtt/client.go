package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/config"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/core"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/macro"
	"github.com/asterics/FLipMouse-esp32-sub001/internal/server"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client bridges the device to an MQTT broker. Inbound topics drive the
// output and the macro engine, outbound topics mirror every state change
// so dashboards see the same picture as the HTTP clients.
type Client struct {
	client   mqtt.Client
	cfg      *config.Config
	state    *core.State
	bus      *core.EventBus
	handlers *server.Handlers
	macros   *macro.Engine
	prefix   string
}

// NewClient builds the MQTT client. Returns nil when the bridge is
// disabled in the config.
func NewClient(cfg *config.Config, state *core.State, bus *core.EventBus, handlers *server.Handlers, macros *macro.Engine) *Client {
	if !cfg.MQTT.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Keep retrying the first connect too, the broker may come up later
	// than we do.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetOrderMatters(false)

	// The broker reports us offline if the link dies without a clean
	// disconnect.
	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := &Client{
		cfg:      cfg,
		state:    state,
		bus:      bus,
		handlers: handlers,
		macros:   macros,
		prefix:   prefix,
	}

	opts.SetOnConnectHandler(c.onConnect)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[MQTT] Connection lost: %v. Retrying in background...", err)
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		log.Println("[MQTT] Attempting to reconnect...")
	})

	c.client = mqtt.NewClient(opts)

	return c
}

// Connect starts the connection loop.
func (c *Client) Connect() error {
	if c.client == nil {
		return nil
	}
	log.Printf("[MQTT] Starting connection loop to %s...", c.cfg.MQTT.Broker)

	token := c.client.Connect()
	// With ConnectRetry enabled an error here means a broken
	// configuration rather than an unreachable broker.
	if token.Wait() && token.Error() != nil {
		log.Printf("[MQTT] Initial connection error: %v", token.Error())
		return token.Error()
	}

	return nil
}

// Disconnect publishes the offline status first, then closes the socket.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting...")

		token := c.client.Publish(c.prefix+"/availability", 0, true, "offline")
		if token.WaitTimeout(2 * time.Second) {
			if token.Error() != nil {
				log.Printf("[MQTT] Warning: failed to publish offline status: %v", token.Error())
			}
		} else {
			log.Println("[MQTT] Warning: timed out publishing offline status")
		}

		c.client.Disconnect(250)
		log.Println("[MQTT] Disconnected.")
	}
}

// Run republishes state change events until the context is cancelled.
func (c *Client) Run(ctx context.Context) {
	events := c.bus.Subscribe(core.ConfigChangedEvent, core.OutputChangedEvent, core.MacroChangedEvent)
	defer c.bus.Unsubscribe(events, core.ConfigChangedEvent, core.OutputChangedEvent, core.MacroChangedEvent)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case core.ConfigChangedEvent:
				if snap, ok := ev.Payload.(core.State); ok {
					c.publishConfigState(snap)
				}
			case core.OutputChangedEvent:
				if on, ok := ev.Payload.(bool); ok {
					c.Publish("output/state", outputStatePayload(on), true)
				}
			case core.MacroChangedEvent:
				if payload, ok := ev.Payload.(map[string]interface{}); ok {
					if name, ok := payload["running"].(string); ok {
						c.Publish("macro/state", name, true)
					}
				}
			}
		}
	}
}

// Publish sends a message below the configured topic prefix without
// blocking the caller.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/%s", c.prefix, subtopic)
	msg := fmt.Sprintf("%v", payload)

	token := c.client.Publish(topic, 0, retained, msg)

	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				log.Printf("[MQTT] Publish error to %s: %v", topic, token.Error())
			}
		} else {
			log.Printf("[MQTT] Timeout publishing to %s", topic)
		}
	}()
}

// onConnect runs inside Paho's event goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	log.Println("[MQTT] Connected to broker.")

	topics := map[string]mqtt.MessageHandler{
		"output/set": c.handleOutputSet,
		"macro/run":  c.handleMacroRun,
		"macro/stop": c.handleMacroStop,
	}

	for sub, handler := range topics {
		topic := fmt.Sprintf("%s/%s", c.prefix, sub)
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		} else {
			log.Printf("[MQTT] Subscribed to %s", topic)
		}
	}

	// Announce ourselves and seed the retained state topics in a
	// separate goroutine, PublishHADiscovery sleeps.
	go func() {
		c.Publish("availability", "online", true)
		c.publishConfigState(c.state.Clone())
		if c.cfg.MQTT.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
	}()
}

// PublishHADiscovery announces the controlled output to Home Assistant
// as a switch entity.
func (c *Client) PublishHADiscovery() {
	// Give the subscriptions a moment to settle.
	time.Sleep(1 * time.Second)

	safeID := sanitizeClientID(c.cfg.MQTT.ClientID)

	icon := "mdi:led-on"
	if c.cfg.Output.Kind == "relais" {
		icon = "mdi:electric-switch"
	}

	discoveryTopic := fmt.Sprintf("%s/switch/%s/switch/config", c.cfg.MQTT.HADiscoveryPrefix, safeID)

	payload := map[string]interface{}{
		"name":      "Output",
		"unique_id": safeID + "_output",
		"object_id": safeID,
		"icon":      icon,

		"command_topic": fmt.Sprintf("%s/output/set", c.prefix),
		"state_topic":   fmt.Sprintf("%s/output/state", c.prefix),
		"payload_on":    "ON",
		"payload_off":   "OFF",

		"availability_topic":    fmt.Sprintf("%s/availability", c.prefix),
		"payload_available":     "online",
		"payload_not_available": "offline",

		"device": map[string]interface{}{
			"identifiers":  []string{safeID},
			"name":         "FLipMouse Bridge",
			"manufacturer": "AsTeRICS",
			"model":        "FLipMouse ESP32 Bridge",
			"sw_version":   "2.5",
		},
	}

	jsonPayload, _ := json.Marshal(payload)
	c.client.Publish(discoveryTopic, 0, true, jsonPayload)
	log.Printf("[MQTT] HA Discovery sent to %s", discoveryTopic)
}

func (c *Client) publishConfigState(snap core.State) {
	output := "off"
	if snap.Output {
		output = "on"
	}
	payload := map[string]interface{}{
		"output":        output,
		"workingMode":   string(snap.Mode),
		"sensitivityX":  snap.SensitivityX,
		"sensitivityY":  snap.SensitivityY,
		"deadzoneX":     snap.DeadzoneX,
		"deadzoneY":     snap.DeadzoneY,
		"pressureValue": snap.PressureThreshold,
		"command":       snap.ActionCommand,
		"parameter":     snap.ActionParameter,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[MQTT] Error marshalling config state: %v", err)
		return
	}
	c.Publish("config/state", string(data), true)
}

func (c *Client) handleOutputSet(client mqtt.Client, msg mqtt.Message) {
	on, ok := parseOnOff(string(msg.Payload()))
	if !ok {
		return
	}
	// The state confirm goes back out through the event loop.
	c.handlers.ApplyOutput(on)
}

func (c *Client) handleMacroRun(client mqtt.Client, msg mqtt.Message) {
	name := string(msg.Payload())
	if err := c.macros.Run(name); err != nil {
		log.Printf("[MQTT] Macro %q: %v", name, err)
	}
}

func (c *Client) handleMacroStop(client mqtt.Client, msg mqtt.Message) {
	c.macros.Stop()
}

// parseOnOff interprets the accepted switch payload spellings. The
// second result is false for anything unrecognized.
func parseOnOff(payload string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	default:
		return false, false
	}
}

func outputStatePayload(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// sanitizeClientID strips everything a discovery topic cannot carry.
func sanitizeClientID(id string) string {
	safeID := strings.ReplaceAll(id, " ", "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, safeID)
}
