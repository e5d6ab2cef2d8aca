// Package api holds the Deribit API surface the RPC client transports:
// the endpoint catalogue, the session message builders, typed decimal
// payloads for the push streams, and a one-shot HTTP JSON-RPC client.
//
// Endpoints:
//   - Production WebSocket: wss://www.deribit.com/ws/api/v2
//   - Production HTTP: https://www.deribit.com/api/v2
//   - Test WebSocket: wss://test.deribit.com/ws/api/v2
//   - Test HTTP: https://test.deribit.com/api/v2
//
// Key channels: quote.{instrument}, book.{instrument}.{interval},
// trades.{instrument}.{interval}, deribit_price_index.{index}, announcements
package api
