// Package supervisor owns the running poller of every tracked entity.
//
// On startup Load starts a poller for each stored entity. Entities paired
// later are started with Add and stopped with Remove. The HTTP API and the
// MQTT refresh command (tailnetmon/command/{entity}/refresh) trigger an
// immediate poll through Refresh.
//
// Each entity gets its own Tailscale client built from its stored
// credentials, so entities on different tailnets never share a key.
package supervisor
