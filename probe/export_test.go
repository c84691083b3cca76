package probe

var Signature = signature
