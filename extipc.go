// Package extipc provides flat re-exports of the IPC core: framing, the
// client envelope, routing, the gateway and its client, and the extension
// host bridge.
package extipc

import (
	"github.com/machinefabric/extipc-go/bridge"
	"github.com/machinefabric/extipc-go/client"
	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/framing"
	"github.com/machinefabric/extipc-go/gateway"
	"github.com/machinefabric/extipc-go/route"
)

// Framing
type Limits = framing.Limits
type FrameDecoder = framing.Decoder
type FrameReader = framing.Reader
type FrameWriter = framing.Writer
type FramingError = framing.FramingError

var Frame = framing.Frame
var NewFrameDecoder = framing.NewDecoder
var NewFrameReader = framing.NewReader
var NewFrameWriter = framing.NewWriter

const DefaultMaxFrame = framing.DefaultMaxFrame

// Client envelope
type Request = envelope.Request
type Response = envelope.Response
type ErrorContext = envelope.ErrorContext
type Empty = envelope.Empty

// Routing
type Table = route.Table
type Context = route.Context
type Caller = route.Caller
type Capability = route.Capability
type Middleware = route.Middleware
type Outcome = route.Outcome

var NewTable = route.New
var RequireCapability = route.RequireCapability

// Gateway and its client
type Server = gateway.Server
type Session = gateway.Session
type Client = client.Client

var NewServer = gateway.New
var Dial = client.Dial
var DefaultSocketPath = client.DefaultSocketPath

// Extension host bridge
type Bridge = bridge.Bridge
type BridgeConfig = bridge.Config
type HostMessage = bridge.Message
type IncomingRequest = bridge.IncomingRequest
type ExtensionEvent = bridge.ExtensionEvent

var NewBridge = bridge.New

// Protocol constants
const HostEnvelopeVersion = bridge.EnvelopeVersion
const DefaultCallTimeout = bridge.DefaultCallTimeout
const DefaultClientTimeout = client.DefaultTimeout
