// Package mongo implements store.Store using the official MongoDB driver.
// Suitable for distributed deployments requiring horizontal scaling.
//
// The caller owns the client lifecycle; Store never disconnects it:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("flowwork"))
//	s.Migrate(ctx)
//
// Writes are guarded by a version field: Transact replaces the document
// only if its version is unchanged since it was read.
package mongo
