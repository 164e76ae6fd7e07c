// Package protocol is the wire format shared by the server and clients.
//
// Every frame is a JSON text message of the form
//
//	{"type": "<kind>", "payload": {...}}
//
// Server -> Client
//
//	init            {assignedId, players[], objects[], worldConfig}   once, on accept
//	player-joined   Player
//	player-left     {id, name}
//	player-moved    {id, position}
//	player-rotated  {id, rotation}
//	object-created  Object
//	object-moved    {id, position, rotation}
//	object-deleted  {id}
//	objects-cleared {}
//	world-snapshot  {players[], objects[], timestamp}
//	chat-message    {id, playerId, playerName, message, timestamp}
//	error           {message}
//
// Client -> Server
//
//	move            {position}
//	rotate          {rotation}
//	create-object   {kind, position?, rotation?, scale?, materialHint?, physicsEnabled?}
//	move-object     {objectId, position, rotation}
//	delete-object   {objectId}
//	clear-objects   {}
//	chat-message    {message}
//
// Vectors are {x, y, z}. Timestamps are Unix milliseconds.
package protocol
