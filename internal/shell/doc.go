// Package shell is a line-oriented shell whose behavior is composed from
// plugins.
//
// The shell type declares four extension points:
//
//	init     broadcast  every plugin initializes its own attributes
//	update   broadcast  runs after every command
//	prompt   override   one plugin owns the prompt; the default is "> "
//	react    fallback   plugins try to handle a line in load order and
//	                    raise ValueError to pass it on
//
// A Lua plugin extending the shell:
//
//	function init(self)
//	    self.greeted = false
//	end
//
//	function react(self, line)
//	    if line ~= "hello" then
//	        raise("ValueError", line)
//	    end
//	    self.greeted = true
//	    return "hello to you too"
//	end
//
// A string returned by react is written as the response to the line.
package shell
